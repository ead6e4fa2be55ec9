package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/documents/gatepass"
	"stockledger/internal/domain/documents/mirv"
)

func TestExtractDBColumns_EmbeddedDocument(t *testing.T) {
	cols := ExtractDBColumns[mirv.MIRV]()

	for _, expected := range []string{
		"id", "version", "created_at", "updated_by", "number", "date", "warehouse_id",
		"status", "reservation_status", "qc_signature_id", "gate_pass_auto_created",
	} {
		assert.Contains(t, cols, expected)
	}
	assert.NotContains(t, cols, "lines")
	assert.NotContains(t, cols, "-")
}

func TestExtractDBColumns_EmbeddedKey(t *testing.T) {
	cols := ExtractDBColumns[entity.InventoryLot]()

	assert.Equal(t, []string{"id", "lot_number", "item_id", "warehouse_id"}, cols[:4])
	assert.Contains(t, cols, "available_qty")
	assert.Contains(t, cols, "version")
}

func TestStructToMap_GatePass(t *testing.T) {
	now := time.Now().UTC()
	source := id.New()
	pass := gatepass.NewOutbound(id.New(), "Work Site")
	pass.Number = "GP-2026-00001"
	pass.Date = now
	pass.SourceDocumentID = &source
	pass.AddLine(id.New(), types.NewQuantity(2))

	m := StructToMap(pass)

	assert.Equal(t, pass.ID, m["id"])
	assert.Equal(t, 1, m["version"])
	assert.Equal(t, "GP-2026-00001", m["number"])
	assert.Equal(t, now, m["date"])
	assert.Equal(t, gatepass.TypeOutbound, m["pass_type"])
	assert.Equal(t, &source, m["source_document_id"])
	assert.Equal(t, "Work Site", m["destination"])
	assert.NotContains(t, m, "lines")
}

func TestStructToMap_NotAStruct(t *testing.T) {
	assert.Nil(t, StructToMap(42))
}
