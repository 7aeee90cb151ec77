package models

type ScrapType string

const (
	ScrapTypeTechnological ScrapType = "T"
	ScrapTypeEmployeeFault ScrapType = "E"
)

var AllScrapType = []ScrapType{
	ScrapTypeTechnological,
	ScrapTypeEmployeeFault,
}

func (e ScrapType) IsValid() bool {
	switch e {
	case ScrapTypeTechnological, ScrapTypeEmployeeFault:
		return true
	}
	return false
}

func (e ScrapType) String() string {
	return string(e)
}

type ReceiptAuditAction string

const (
	ReceiptAuditActionCreated  ReceiptAuditAction = "Created"
	ReceiptAuditActionDeleted  ReceiptAuditAction = "Deleted"
	ReceiptAuditActionReverted ReceiptAuditAction = "Reverted"
)

var AllReceiptAuditAction = []ReceiptAuditAction{
	ReceiptAuditActionCreated,
	ReceiptAuditActionDeleted,
	ReceiptAuditActionReverted,
}

func (e ReceiptAuditAction) IsValid() bool {
	switch e {
	case ReceiptAuditActionCreated, ReceiptAuditActionDeleted, ReceiptAuditActionReverted:
		return true
	}
	return false
}

func (e ReceiptAuditAction) String() string {
	return string(e)
}

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleOperator UserRole = "O"
)

func (e UserRole) IsValid() bool {
	switch e {
	case UserRoleAdmin, UserRoleOperator:
		return true
	}
	return false
}

func (e UserRole) String() string {
	return string(e)
}
