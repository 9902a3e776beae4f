package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"paybot/pkg/chat"
	"paybot/pkg/gateway"
	"paybot/pkg/selector"
)

func (e *Engine) startWithdraw(ctx context.Context, s *Session) chat.Action {
	if _, err := e.ensureSubject(ctx, s); err != nil {
		e.logger.Error("ensure subject: %v", err)
		return e.backendFailure(s, err)
	}

	banks, err := e.api.WithdrawalBanks(ctx)
	if err != nil {
		return e.backendFailure(s, err)
	}
	items := withdrawBankItems(banks)
	if len(items) == 0 {
		e.emit(FlowWithdraw, "no_candidates")
		s.reset()
		return chat.Send(msgNoBanks)
	}

	s.enter(FlowWithdraw, StepSelectBank)
	return e.renderList(s, listWithdrawBank, "Choose a bank to withdraw to:", items, 0, false)
}

func withdrawBankItems(banks []gateway.WithdrawalBank) []selector.Item {
	items := make([]selector.Item, 0, len(banks))
	for _, b := range banks {
		if !b.IsActive {
			continue
		}
		items = append(items, selector.Item{
			Label: b.BankName,
			Token: fmt.Sprintf("%s:%d", listWithdrawBank, b.ID),
		})
	}
	return items
}

func (e *Engine) handleWithdraw(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	switch s.Step {
	case StepSelectBank:
		return e.withdrawSelectBank(ctx, s, ev)
	case StepRequiredField:
		return e.withdrawRequiredField(s, ev)
	case StepEnterAmount:
		return e.enterAmount(ctx, s, ev)
	case StepSelectSite:
		return e.selectSite(ctx, s, ev)
	case StepEnterPlayerID:
		return e.enterPlayerID(s, ev)
	case StepAwaitConfirm:
		if ev.Kind == chat.EventSelection && ev.Token == tokConfirmYes {
			return e.submitWithdraw(ctx, s)
		}
		return e.invalidState(s)
	default:
		return e.invalidState(s)
	}
}

func (e *Engine) withdrawSelectBank(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	if ev.Kind != chat.EventSelection {
		return e.invalidState(s)
	}
	if page, ok := selector.ParseNavToken(listWithdrawBank, ev.Token); ok {
		return e.renderWithdrawBanks(ctx, s, page)
	}

	switch e.checkSelection(s, listWithdrawBank, ev.Token) {
	case selExpired:
		s.List = nil
		return chat.Edit(msgExpired, nil)
	case selStale:
		e.emit(FlowWithdraw, "stale_selection")
		return e.renderWithdrawBanks(ctx, s, s.listPage())
	}

	bank, ok := e.findWithdrawBank(ctx, ev.Token)
	if !ok {
		e.emit(FlowWithdraw, "stale_selection")
		return e.renderWithdrawBanks(ctx, s, s.listPage())
	}

	s.List = nil
	s.Fields["bankId"] = strconv.Itoa(bank.ID)
	s.Fields["bankName"] = bank.BankName
	s.RequiredFields = bank.RequiredFields
	s.FieldIndex = 0

	if len(s.RequiredFields) > 0 {
		s.transition(StepRequiredField)
		return e.promptRequiredField(s)
	}
	s.transition(StepEnterAmount)
	return chat.SendChoices(fmt.Sprintf("Enter the amount in %s:", e.cfg.Currency), amountKeyboard(e.cfg.Currency))
}

func (e *Engine) renderWithdrawBanks(ctx context.Context, s *Session, page int) chat.Action {
	banks, err := e.api.WithdrawalBanks(ctx)
	if err != nil {
		return chat.Send(msgTransient)
	}
	items := withdrawBankItems(banks)
	if len(items) == 0 {
		s.reset()
		return chat.Send(msgNoBanks)
	}
	return e.renderList(s, listWithdrawBank, msgStale+"\n\nChoose a bank:", items, page, true)
}

func (e *Engine) findWithdrawBank(ctx context.Context, tok string) (gateway.WithdrawalBank, bool) {
	banks, err := e.api.WithdrawalBanks(ctx)
	if err != nil {
		return gateway.WithdrawalBank{}, false
	}
	for _, b := range banks {
		if fmt.Sprintf("%s:%d", listWithdrawBank, b.ID) == tok {
			return b, true
		}
	}
	return gateway.WithdrawalBank{}, false
}

func (e *Engine) promptRequiredField(s *Session) chat.Action {
	rf := s.RequiredFields[s.FieldIndex]
	return chat.Send(fmt.Sprintf("Enter %s:", fieldLabel(rf)))
}

// withdrawRequiredField consumes the backend-declared prompt queue one
// answer at a time, then moves on to the amount.
func (e *Engine) withdrawRequiredField(s *Session, ev chat.Event) chat.Action {
	if ev.Kind != chat.EventText {
		return e.invalidState(s)
	}
	v := strings.TrimSpace(ev.Text)
	if !validFieldValue(v) {
		e.emit(FlowWithdraw, "invalid_input")
		return chat.Send(msgEmptyField)
	}

	rf := s.RequiredFields[s.FieldIndex]
	s.Fields["rf:"+rf.Name] = v
	s.FieldIndex++

	if s.FieldIndex < len(s.RequiredFields) {
		return e.promptRequiredField(s)
	}
	s.transition(StepEnterAmount)
	return chat.SendChoices(fmt.Sprintf("Enter the amount in %s:", e.cfg.Currency), amountKeyboard(e.cfg.Currency))
}

// withdrawalAddress picks the destination the backend pays out to: the
// account-like required field when one exists, otherwise the first answer.
func withdrawalAddress(s *Session) string {
	for _, rf := range s.RequiredFields {
		if looksLikeAccount(rf.Name) {
			return s.Fields["rf:"+rf.Name]
		}
	}
	if len(s.RequiredFields) > 0 {
		return s.Fields["rf:"+s.RequiredFields[0].Name]
	}
	return ""
}

func (e *Engine) submitWithdraw(ctx context.Context, s *Session) chat.Action {
	id, err := e.ensureSubject(ctx, s)
	if err != nil {
		return e.backendFailure(s, err)
	}

	req := gateway.TransactionRequest{
		PlayerUUID:        id.PlayerUUID,
		Type:              gateway.TxWithdraw,
		Amount:            s.Fields["amount"],
		Currency:          e.cfg.Currency,
		BettingSiteID:     atoiField(s, "bettingSiteId"),
		PlayerSiteID:      s.Fields["playerSiteId"],
		WithdrawalBankID:  atoiField(s, "bankId"),
		WithdrawalAddress: withdrawalAddress(s),
	}

	s.transition(StepSubmitting)
	tx, err := e.api.CreateTransaction(ctx, req, nil)
	if err != nil {
		s.transition(StepAwaitConfirm)
		fail := e.backendFailure(s, err)
		return chat.SendChoices(fail.Text, confirmKeyboard())
	}

	e.emit(FlowWithdraw, "completed")
	s.reset()
	return chat.Send(submittedText(tx))
}
