package types

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

var paymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusCompleted,
	PaymentStatusFailed,
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	return parseVariant("payment status", s, paymentStatuses)
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

func (s *PaymentStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalVariant(data, "payment status", paymentStatuses)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
