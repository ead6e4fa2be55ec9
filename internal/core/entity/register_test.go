package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

func TestInventoryLevel_Available(t *testing.T) {
	level := InventoryLevel{QtyOnHand: types.NewQuantity(50), QtyReserved: types.NewQuantity(20)}
	assert.Equal(t, types.NewQuantity(30), level.Available())
}

func TestInventoryLot_Reservable(t *testing.T) {
	lot := InventoryLot{AvailableQty: types.NewQuantity(15), ReservedQty: types.NewQuantity(5)}
	assert.Equal(t, types.NewQuantity(10), lot.Reservable())
}

func TestConsumptionRefs(t *testing.T) {
	lineID := id.New()
	ref := RefForMirvLine(lineID)
	assert.Equal(t, lineID, *ref.MirvLineID)
	assert.Nil(t, ref.ReferenceType)

	ref = RefFor("adjustment", "ADJ-1")
	assert.Nil(t, ref.MirvLineID)
	assert.Equal(t, "adjustment", *ref.ReferenceType)
	assert.Equal(t, "ADJ-1", *ref.ReferenceID)
}
