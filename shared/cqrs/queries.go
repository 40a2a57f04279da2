package cqrs

// ---------- Transaction queries ----------

// GetTransactionQuery fetches a single transaction by reference, subject to ownership check.
type GetTransactionQuery struct {
	Reference string
	UserID    string
}

// ListTransactionLogsQuery fetches the audit trail of one transaction.
type ListTransactionLogsQuery struct {
	Reference string
	UserID    string
}

// ListAccountTransactionsQuery pages through transactions touching an account, newest first.
type ListAccountTransactionsQuery struct {
	AccountID string
	UserID    string
	Limit     int
	Offset    int
}

// ---------- Account queries ----------

// GetAccountQuery fetches a single account.
type GetAccountQuery struct {
	AccountID        string
	RequestingUserID string
}

// ListAccountsQuery fetches all accounts belonging to a user.
type ListAccountsQuery struct {
	UserID string
}

// ---------- Limit and profile queries ----------

type GetLimitsQuery struct {
	UserID string
}

type GetSecuritySettingsQuery struct {
	UserID string
}

type ListBeneficiariesQuery struct {
	UserID string
}

type ListSchedulesQuery struct {
	UserID string
}
