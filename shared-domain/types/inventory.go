package types

// InventoryStatus is the outcome reported by the inventory service for an order.
type InventoryStatus string

const (
	InventoryStatusReserved          InventoryStatus = "STOCK_RESERVED"
	InventoryStatusReservationFailed InventoryStatus = "STOCK_RESERVATION_FAILED"
	InventoryStatusFailed            InventoryStatus = "FAILED"
)

var inventoryStatuses = []InventoryStatus{
	InventoryStatusReserved,
	InventoryStatusReservationFailed,
	InventoryStatusFailed,
}

func ParseInventoryStatus(s string) (InventoryStatus, error) {
	return parseVariant("inventory status", s, inventoryStatuses)
}

func (s *InventoryStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalVariant(data, "inventory status", inventoryStatuses)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
