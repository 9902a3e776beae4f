package flow

import (
	"fmt"
	"strings"

	"paybot/pkg/chat"
	"paybot/pkg/gateway"
)

// Selection token namespaces and fixed tokens. Item tokens are
// "<kind>:<id>", navigation tokens "<kind>:page:<n>".
const (
	listLanguage     = "lang"
	listDepositBank  = "dep_bank"
	listWithdrawBank = "wd_bank"
	listSite         = "site"
	listHistory      = "hist"
	listTransaction  = "tx"

	tokMenuDeposit  = "menu:deposit"
	tokMenuWithdraw = "menu:withdraw"
	tokMenuHistory  = "menu:history"
	tokMenuRegister = "menu:register"
	tokMenuLogin    = "menu:login"
	tokMenuLogout   = "menu:logout"

	tokConfirmYes     = "confirm:yes"
	tokConfirmNo      = "confirm:no"
	tokSkipScreenshot = "skip:screenshot"
	tokSkipPhone      = "skip:phone"
	tokAmountCustom   = "amount:custom"
)

// quickAmounts are the one-tap amount choices offered before custom entry.
var quickAmounts = []int{50, 100, 200, 500, 1000}

const (
	msgExpired        = "This list has expired. Please reopen it from the menu."
	msgStale          = "That option is no longer available. Pick one from the list below."
	msgTransient      = "The service is temporarily unavailable. Please try again."
	msgCancelled      = "Cancelled. Nothing was submitted."
	msgNoBanks        = "No banks are available right now. Please try again later."
	msgNoSites        = "No betting sites are available right now. Please try again later."
	msgNeedAccount    = "You need an account for that. Register or log in first."
	msgInvalidAmount  = "Invalid amount. Enter a positive number, e.g. 100 or 250.50."
	msgInvalidSiteID  = "Invalid player ID. Use up to 50 letters, digits, _ or -."
	msgInvalidEmail   = "That doesn't look like an email address. Try again."
	msgInvalidPhone   = "Invalid phone number. Use international format, e.g. +251911234567."
	msgShortPassword  = "Password must be at least 8 characters."
	msgShortName      = "Display name must be at least 2 characters."
	msgEmptyField     = "This field can't be empty (max 100 characters)."
	msgUnexpected     = "I wasn't expecting that here. Use the prompt above, or send /start to begin again."
	msgLoggedOut      = "You are logged out."
	msgNotLoggedIn    = "You are not logged in."
	msgHistoryEmpty   = "No transactions yet."
	msgScreenshotHint = "Send a screenshot of your payment (PNG or JPEG), or skip."
)

func mainMenu(registered bool) [][]chat.Choice {
	rows := [][]chat.Choice{
		{{Label: "💰 Deposit", Token: tokMenuDeposit}, {Label: "💸 Withdraw", Token: tokMenuWithdraw}},
		{{Label: "📋 History", Token: tokMenuHistory}},
	}
	if registered {
		rows = append(rows, []chat.Choice{{Label: "🚪 Log out", Token: tokMenuLogout}})
	} else {
		rows = append(rows, []chat.Choice{
			{Label: "📝 Register", Token: tokMenuRegister},
			{Label: "🔑 Log in", Token: tokMenuLogin},
		})
	}
	return rows
}

func amountKeyboard(currency string) [][]chat.Choice {
	row := make([]chat.Choice, 0, len(quickAmounts))
	for _, a := range quickAmounts {
		row = append(row, chat.Choice{
			Label: fmt.Sprintf("%d %s", a, currency),
			Token: fmt.Sprintf("amount:%d", a),
		})
	}
	return [][]chat.Choice{
		row[:3], row[3:],
		{{Label: "Custom amount", Token: tokAmountCustom}},
	}
}

func confirmKeyboard() [][]chat.Choice {
	return [][]chat.Choice{{
		{Label: "✅ Confirm", Token: tokConfirmYes},
		{Label: "❌ Cancel", Token: tokConfirmNo},
	}}
}

func depositInstructions(bank gateway.DepositBank, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transfer your deposit to:\n\n🏦 %s\n", bank.BankName)
	if bank.AccountName != "" {
		fmt.Fprintf(&b, "👤 %s\n", bank.AccountName)
	}
	if bank.AccountNumber != "" {
		fmt.Fprintf(&b, "🔢 %s\n", bank.AccountNumber)
	}
	if bank.Notes != "" {
		fmt.Fprintf(&b, "\nℹ️ %s\n", bank.Notes)
	}
	fmt.Fprintf(&b, "\nNow enter the amount in %s:", currency)
	return b.String()
}

func depositSummary(s *Session, currency string) string {
	var b strings.Builder
	b.WriteString("Please confirm your deposit:\n\n")
	fmt.Fprintf(&b, "🏦 Bank: %s", s.Fields["bankName"])
	if acct := s.Fields["accountNumber"]; acct != "" {
		fmt.Fprintf(&b, " (%s)", maskAccount(acct))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "💵 Amount: %s %s\n", s.Fields["amount"], currency)
	fmt.Fprintf(&b, "🎰 Site: %s\n", s.Fields["siteName"])
	fmt.Fprintf(&b, "🆔 Player ID: %s\n", s.Fields["playerSiteId"])
	if s.Fields["screenshot"] != "" {
		b.WriteString("🖼 Screenshot: attached\n")
	}
	return b.String()
}

func withdrawSummary(s *Session, currency string) string {
	var b strings.Builder
	b.WriteString("Please confirm your withdrawal:\n\n")
	fmt.Fprintf(&b, "🏦 Bank: %s\n", s.Fields["bankName"])
	for _, rf := range s.RequiredFields {
		v := s.Fields["rf:"+rf.Name]
		if looksLikeAccount(rf.Name) {
			v = maskAccount(v)
		}
		fmt.Fprintf(&b, "▪️ %s: %s\n", fieldLabel(rf), v)
	}
	fmt.Fprintf(&b, "💵 Amount: %s %s\n", s.Fields["amount"], currency)
	fmt.Fprintf(&b, "🎰 Site: %s\n", s.Fields["siteName"])
	fmt.Fprintf(&b, "🆔 Player ID: %s\n", s.Fields["playerSiteId"])
	return b.String()
}

func fieldLabel(rf gateway.RequiredField) string {
	if rf.Label != "" {
		return rf.Label
	}
	return rf.Name
}

func looksLikeAccount(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "account") || strings.Contains(n, "number")
}

func submittedText(tx gateway.Transaction) string {
	return fmt.Sprintf("✅ Submitted.\n\nReference: %s\nStatus: %s\n\nYou'll be notified when it's processed.",
		tx.TransactionUUID, tx.Status)
}

func historyLine(tx gateway.Transaction) string {
	return fmt.Sprintf("%s %s %s · %s", txIcon(tx.Type), tx.Amount, tx.Currency, tx.Status)
}

func transactionDetail(tx gateway.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", txIcon(tx.Type), titleCase(tx.Type))
	fmt.Fprintf(&b, "Reference: %s\n", tx.TransactionUUID)
	fmt.Fprintf(&b, "Amount: %s %s\n", tx.Amount, tx.Currency)
	fmt.Fprintf(&b, "Status: %s\n", tx.Status)
	if tx.DepositBank != nil {
		fmt.Fprintf(&b, "Bank: %s", tx.DepositBank.BankName)
		if tx.DepositBank.AccountNumber != "" {
			fmt.Fprintf(&b, " (%s)", maskAccount(tx.DepositBank.AccountNumber))
		}
		b.WriteString("\n")
	}
	if tx.WithdrawalBank != nil {
		fmt.Fprintf(&b, "Bank: %s\n", tx.WithdrawalBank.BankName)
	}
	if tx.CreatedAt != "" {
		fmt.Fprintf(&b, "Created: %s\n", tx.CreatedAt)
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}

func txIcon(txType string) string {
	if txType == gateway.TxWithdraw {
		return "💸"
	}
	return "💰"
}
