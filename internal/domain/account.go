package domain

// Account represents one authenticated community account held by the launcher.
type Account struct {
	Username     string `json:"username"`
	ID           string `json:"uuid"`
	Token        string `json:"token"`
	TokenExpires int64  `json:"tokenExpires"` // unix seconds
	IsAdmin      bool   `json:"isAdmin"`
}

// AccountSummary is the token-free view of an account exposed to the UI.
type AccountSummary struct {
	Username string `json:"username"`
	ID       string `json:"uuid"`
	IsAdmin  bool   `json:"isAdmin"`
}

// Summary strips credentials from an account.
func (a Account) Summary() AccountSummary {
	return AccountSummary{
		Username: a.Username,
		ID:       a.ID,
		IsAdmin:  a.IsAdmin,
	}
}
