package types

type PromotionType string

const (
	PromotionTypePercentage   PromotionType = "PERCENTAGE"
	PromotionTypeFixedAmount  PromotionType = "FIXED_AMOUNT"
	PromotionTypeFreeShipping PromotionType = "FREE_SHIPPING"
)

var promotionTypes = []PromotionType{
	PromotionTypePercentage,
	PromotionTypeFixedAmount,
	PromotionTypeFreeShipping,
}

func ParsePromotionType(s string) (PromotionType, error) {
	return parseVariant("promotion type", s, promotionTypes)
}

func (t *PromotionType) UnmarshalJSON(data []byte) error {
	v, err := unmarshalVariant(data, "promotion type", promotionTypes)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type PromotionStatus string

const (
	PromotionStatusDraft   PromotionStatus = "DRAFT"
	PromotionStatusActive  PromotionStatus = "ACTIVE"
	PromotionStatusPaused  PromotionStatus = "PAUSED"
	PromotionStatusExpired PromotionStatus = "EXPIRED"
)

var promotionStatuses = []PromotionStatus{
	PromotionStatusDraft,
	PromotionStatusActive,
	PromotionStatusPaused,
	PromotionStatusExpired,
}

func ParsePromotionStatus(s string) (PromotionStatus, error) {
	return parseVariant("promotion status", s, promotionStatuses)
}

func (s *PromotionStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalVariant(data, "promotion status", promotionStatuses)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
