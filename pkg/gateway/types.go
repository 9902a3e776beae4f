package gateway

import (
	"encoding/json"
	"fmt"
)

// Language is one selectable bot language.
type Language struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

// UnmarshalJSON defaults isActive to true when the backend omits it.
func (l *Language) UnmarshalJSON(data []byte) error {
	type alias struct {
		Code     string `json:"code"`
		Name     string `json:"name"`
		IsActive *bool  `json:"isActive"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	l.Code = a.Code
	l.Name = a.Name
	l.IsActive = a.IsActive == nil || *a.IsActive
	return nil
}

// DepositBank is a bank the user can deposit into.
type DepositBank struct {
	ID            int    `json:"id"`
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	Notes         string `json:"notes"`
	IsActive      bool   `json:"isActive"`
}

// UnmarshalJSON tolerates the backend's known quirks: the "bankNamee"
// misspelling and a missing isActive (defaults to active).
func (b *DepositBank) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID            int    `json:"id"`
		BankName      string `json:"bankName"`
		BankNamee     string `json:"bankNamee"`
		AccountNumber string `json:"accountNumber"`
		AccountName   string `json:"accountName"`
		Notes         string `json:"notes"`
		IsActive      *bool  `json:"isActive"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	b.ID = a.ID
	b.BankName = a.BankName
	if b.BankName == "" {
		b.BankName = a.BankNamee
	}
	b.AccountNumber = a.AccountNumber
	b.AccountName = a.AccountName
	b.Notes = a.Notes
	b.IsActive = a.IsActive == nil || *a.IsActive
	return nil
}

// RequiredField describes one input a withdrawal bank demands before an
// amount can be entered. Fields arrive ordered; the flow prompts in order.
type RequiredField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// WithdrawalBank is a bank the user can withdraw to.
type WithdrawalBank struct {
	ID             int             `json:"id"`
	BankName       string          `json:"bankName"`
	RequiredFields []RequiredField `json:"requiredFields"`
	Notes          string          `json:"notes"`
	IsActive       bool            `json:"isActive"`
}

// UnmarshalJSON tolerates the "bankNamee" misspelling, a missing isActive,
// and requiredFields delivered as a JSON-encoded string instead of an array.
func (b *WithdrawalBank) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID             int             `json:"id"`
		BankName       string          `json:"bankName"`
		BankNamee      string          `json:"bankNamee"`
		RequiredFields json.RawMessage `json:"requiredFields"`
		Notes          string          `json:"notes"`
		IsActive       *bool           `json:"isActive"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	b.ID = a.ID
	b.BankName = a.BankName
	if b.BankName == "" {
		b.BankName = a.BankNamee
	}
	b.Notes = a.Notes
	b.IsActive = a.IsActive == nil || *a.IsActive
	b.RequiredFields = nil
	if len(a.RequiredFields) > 0 {
		raw := a.RequiredFields
		// Double-encoded variant: "[{\"name\":...}]"
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			raw = json.RawMessage(s)
		}
		var fields []RequiredField
		if err := json.Unmarshal(raw, &fields); err == nil {
			b.RequiredFields = fields
		}
	}
	return nil
}

// BettingSite is a site a transaction can target.
type BettingSite struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Website     string `json:"website"`
	IsActive    bool   `json:"isActive"`
}

// Player is the backend's subject record.
type Player struct {
	ID               int    `json:"id"`
	PlayerUUID       string `json:"playerUuid"`
	ExternalID       string `json:"externalId"`
	ExternalUsername string `json:"externalUsername"`
	LanguageCode     string `json:"languageCode"`
	IsTemporary      bool   `json:"isTemporary"`
}

// GuestRequest creates a temporary player bound to a chat user handle.
type GuestRequest struct {
	ExternalID       string `json:"externalId"`
	ExternalUsername string `json:"externalUsername,omitempty"`
	LanguageCode     string `json:"languageCode"`
}

// RegisterRequest creates a full player account. The email doubles as the
// backend username.
type RegisterRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	DisplayName  string `json:"displayName"`
	LanguageCode string `json:"languageCode"`
	Phone        string `json:"phone,omitempty"`
}

// Transaction types accepted by the backend.
const (
	TxDeposit  = "DEPOSIT"
	TxWithdraw = "WITHDRAW"
)

// TransactionRequest holds the structured fields of a create-transaction
// call. Exactly one of DepositBankID / WithdrawalBankID is set depending on
// Type.
type TransactionRequest struct {
	PlayerUUID        string `json:"playerUuid"`
	Type              string `json:"type"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	BettingSiteID     int    `json:"bettingSiteId"`
	PlayerSiteID      string `json:"playerSiteId"`
	DepositBankID     int    `json:"depositBankId,omitempty"`
	WithdrawalBankID  int    `json:"withdrawalBankId,omitempty"`
	WithdrawalAddress string `json:"withdrawalAddress,omitempty"`
	ScreenshotURL     string `json:"screenshotUrl,omitempty"`
}

// Transaction is the backend's transaction record.
type Transaction struct {
	ID              int             `json:"id"`
	TransactionUUID string          `json:"transactionUuid"`
	Type            string          `json:"type"`
	Amount          json.Number     `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	DepositBank     *DepositBank    `json:"depositBank"`
	WithdrawalBank  *WithdrawalBank `json:"withdrawalBank"`
	BettingSiteID   int             `json:"bettingSiteId"`
	PlayerSiteID    string          `json:"playerSiteId"`
	ScreenshotURL   string          `json:"screenshotUrl"`
	CreatedAt       string          `json:"createdAt"`
}

// TransactionPage is one page of a subject's transaction history.
type TransactionPage struct {
	Transactions []Transaction  `json:"transactions"`
	Pagination   map[string]any `json:"pagination"`
}

// UploadConfig is the backend's file intake policy.
type UploadConfig struct {
	MaxFileSize      int64    `json:"maxFileSize"`
	AllowedMIMETypes []string `json:"allowedMimeTypes"`
	UploadPath       string   `json:"uploadPath"`
	StorageType      string   `json:"storageType"`
}

// Upload is the result of a standalone file upload.
type Upload struct {
	Message  string `json:"message"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// decodeBankList decodes the several shapes the bank list endpoints are known
// to return: a bare array, or an object keyed by the canonical name with
// "banks"/"data" fallbacks.
func decodeBankList[T any](data []byte, key string) ([]T, error) {
	var direct []T
	if err := json.Unmarshal(data, &direct); err == nil {
		return direct, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode bank list: %w", err)
	}
	for _, k := range []string{key, "banks", "data"} {
		if raw, ok := obj[k]; ok {
			var items []T
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("decode bank list %q: %w", k, err)
			}
			return items, nil
		}
	}
	return nil, nil
}
