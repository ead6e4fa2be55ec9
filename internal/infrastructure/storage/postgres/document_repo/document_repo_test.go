package document_repo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain"
	"stockledger/internal/domain/documents/mirv"
)

func TestUpdateQuery_GuardsVersion(t *testing.T) {
	repo := NewMIRVRepo(nil)
	doc := mirv.NewMIRV(id.New(), "alice")
	doc.Version = 4

	q, docID, version, err := repo.updateQuery(doc)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, docID)
	assert.Equal(t, 4, version)

	sql, _, err := q.ToSql()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sql, "UPDATE doc_mirv SET "))
	assert.Contains(t, sql, "version = version + 1")
	assert.Contains(t, sql, "updated_at = NOW()")
	assert.Regexp(t, `WHERE id = \$\d+ AND version = \$\d+$`, sql)
	assert.NotContains(t, sql, "created_at =")
	assert.NotContains(t, sql, "created_by =")
}

func TestParseOrderBy(t *testing.T) {
	repo := NewMIRVRepo(nil)

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "date DESC", false},
		{"number", "number ASC", false},
		{"-date", "date DESC", false},
		{"+status", "status ASC", false},
		{"-", "", true},
		{"password", "", true},
		{"date; DROP TABLE doc_mirv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := repo.parseOrderBy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMIRVListQuery_Filters(t *testing.T) {
	repo := NewMIRVRepo(nil)
	wh := id.New()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	filter := mirv.ListFilter{
		ListFilter:  domain.ListFilter{Limit: 20, Offset: 40},
		WarehouseID: &wh,
		Statuses:    []mirv.Status{mirv.StatusApproved, mirv.StatusPartiallyIssued},
		DateFrom:    &from,
	}

	q, err := repo.paginate(repo.listQuery(filter), filter.ListFilter)
	require.NoError(t, err)

	sql, args, err := q.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "FROM doc_mirv WHERE warehouse_id = $1 AND status IN ($2,$3) AND date >= $4")
	assert.True(t, strings.HasSuffix(sql, "ORDER BY date DESC, number DESC LIMIT 20 OFFSET 40"))
	assert.Len(t, args, 4)
}

func TestMIRVLinesInsert(t *testing.T) {
	repo := NewMIRVRepo(nil)
	docID := id.New()

	assert.Nil(t, repo.linesInsert(docID, nil))

	doc := mirv.NewMIRV(id.New(), "alice")
	doc.AddLine(id.New(), types.NewQuantity(5))
	doc.AddLine(id.New(), types.NewQuantity(2))

	q := repo.linesInsert(docID, doc.Lines)
	require.NotNil(t, q)

	sql, args, err := q.ToSql()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sql, "INSERT INTO doc_mirv_lines (document_id,line_id,line_no,item_id,qty_requested,qty_approved,qty_issued,unit_cost) VALUES"))
	assert.Len(t, args, 2*(len(mirvLineColumns)+1))
	assert.Equal(t, types.NewQuantity(2), args[len(mirvLineColumns)+1+4])
}

func TestGatePassBySourceQuery(t *testing.T) {
	repo := NewGatePassRepo(nil)

	sql, args, err := repo.bySourceQuery(id.New()).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "FROM doc_gate_passes WHERE source_document_id = $1")
	assert.True(t, strings.HasSuffix(sql, "ORDER BY created_at, id"))
	assert.Len(t, args, 1)
}

func TestDocumentWritesRequireUnitOfWork(t *testing.T) {
	repo := NewGatePassRepo(nil)
	err := repo.Create(context.Background(), nil, nil)
	assert.Error(t, err)
}
