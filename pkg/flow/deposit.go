package flow

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"paybot/pkg/chat"
	"paybot/pkg/gateway"
	"paybot/pkg/intake"
	"paybot/pkg/selector"
)

func (e *Engine) startDeposit(ctx context.Context, s *Session) chat.Action {
	if _, err := e.ensureSubject(ctx, s); err != nil {
		e.logger.Error("ensure subject: %v", err)
		return e.backendFailure(s, err)
	}

	banks, err := e.api.DepositBanks(ctx)
	if err != nil {
		return e.backendFailure(s, err)
	}
	items := depositBankItems(banks)
	if len(items) == 0 {
		e.emit(FlowDeposit, "no_candidates")
		s.reset()
		return chat.Send(msgNoBanks)
	}

	s.enter(FlowDeposit, StepSelectBank)
	return e.renderList(s, listDepositBank, "Choose a bank to deposit with:", items, 0, false)
}

func depositBankItems(banks []gateway.DepositBank) []selector.Item {
	items := make([]selector.Item, 0, len(banks))
	for _, b := range banks {
		if !b.IsActive {
			continue
		}
		items = append(items, selector.Item{
			Label: b.BankName,
			Token: fmt.Sprintf("%s:%d", listDepositBank, b.ID),
		})
	}
	return items
}

func (e *Engine) handleDeposit(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	switch s.Step {
	case StepSelectBank:
		return e.depositSelectBank(ctx, s, ev)
	case StepEnterAmount:
		return e.enterAmount(ctx, s, ev)
	case StepSelectSite:
		return e.selectSite(ctx, s, ev)
	case StepEnterPlayerID:
		return e.enterPlayerID(s, ev)
	case StepAwaitScreenshot:
		return e.awaitScreenshot(s, ev)
	case StepAwaitConfirm:
		if ev.Kind == chat.EventSelection && ev.Token == tokConfirmYes {
			return e.submitDeposit(ctx, s)
		}
		return e.invalidState(s)
	default:
		return e.invalidState(s)
	}
}

func (e *Engine) depositSelectBank(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	if ev.Kind != chat.EventSelection {
		return e.invalidState(s)
	}
	if page, ok := selector.ParseNavToken(listDepositBank, ev.Token); ok {
		return e.renderDepositBanks(ctx, s, page)
	}

	switch e.checkSelection(s, listDepositBank, ev.Token) {
	case selExpired:
		s.List = nil
		return chat.Edit(msgExpired, nil)
	case selStale:
		e.emit(FlowDeposit, "stale_selection")
		return e.renderDepositBanks(ctx, s, s.listPage())
	}

	bank, ok := e.findDepositBank(ctx, ev.Token)
	if !ok {
		e.emit(FlowDeposit, "stale_selection")
		return e.renderDepositBanks(ctx, s, s.listPage())
	}

	s.List = nil
	s.Fields["bankId"] = strconv.Itoa(bank.ID)
	s.Fields["bankName"] = bank.BankName
	s.Fields["accountNumber"] = bank.AccountNumber
	s.transition(StepEnterAmount)
	return chat.SendChoices(depositInstructions(bank, e.cfg.Currency), amountKeyboard(e.cfg.Currency))
}

func (e *Engine) renderDepositBanks(ctx context.Context, s *Session, page int) chat.Action {
	banks, err := e.api.DepositBanks(ctx)
	if err != nil {
		return chat.Send(msgTransient)
	}
	items := depositBankItems(banks)
	if len(items) == 0 {
		s.reset()
		return chat.Send(msgNoBanks)
	}
	return e.renderList(s, listDepositBank, msgStale+"\n\nChoose a bank:", items, page, true)
}

func (e *Engine) findDepositBank(ctx context.Context, tok string) (gateway.DepositBank, bool) {
	banks, err := e.api.DepositBanks(ctx)
	if err != nil {
		return gateway.DepositBank{}, false
	}
	for _, b := range banks {
		if fmt.Sprintf("%s:%d", listDepositBank, b.ID) == tok {
			return b, true
		}
	}
	return gateway.DepositBank{}, false
}

// enterAmount handles the amount step shared by deposit and withdraw:
// quick-pick tokens, the custom-amount token, or free-text entry.
func (e *Engine) enterAmount(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	var raw string
	switch ev.Kind {
	case chat.EventSelection:
		if ev.Token == tokAmountCustom {
			return chat.Send(fmt.Sprintf("Enter the amount in %s:", e.cfg.Currency))
		}
		v, ok := strings.CutPrefix(ev.Token, "amount:")
		if !ok {
			return e.invalidState(s)
		}
		raw = v
	case chat.EventText:
		raw = ev.Text
	default:
		return e.invalidState(s)
	}

	amount, ok := parseAmount(raw)
	if !ok {
		e.emit(s.Flow, "invalid_amount")
		return chat.Send(msgInvalidAmount)
	}
	s.Fields["amount"] = amount

	sites, err := e.api.BettingSites(ctx, true)
	if err != nil {
		return e.backendFailure(s, err)
	}
	if len(sites) == 0 {
		e.emit(s.Flow, "no_candidates")
		s.reset()
		return chat.Send(msgNoSites)
	}
	s.transition(StepSelectSite)
	return e.renderList(s, listSite, "Choose your betting site:", siteItems(sites), 0, false)
}

func siteItems(sites []gateway.BettingSite) []selector.Item {
	items := make([]selector.Item, 0, len(sites))
	for _, st := range sites {
		items = append(items, selector.Item{
			Label: st.Name,
			Token: fmt.Sprintf("%s:%d", listSite, st.ID),
		})
	}
	return items
}

// selectSite handles the betting-site step shared by deposit and withdraw.
func (e *Engine) selectSite(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	if ev.Kind != chat.EventSelection {
		return e.invalidState(s)
	}
	if page, ok := selector.ParseNavToken(listSite, ev.Token); ok {
		return e.renderSites(ctx, s, page)
	}

	switch e.checkSelection(s, listSite, ev.Token) {
	case selExpired:
		s.List = nil
		return chat.Edit(msgExpired, nil)
	case selStale:
		e.emit(s.Flow, "stale_selection")
		return e.renderSites(ctx, s, s.listPage())
	}

	sites, err := e.api.BettingSites(ctx, true)
	if err != nil {
		return chat.Send(msgTransient)
	}
	for _, st := range sites {
		if fmt.Sprintf("%s:%d", listSite, st.ID) == ev.Token {
			s.List = nil
			s.Fields["bettingSiteId"] = strconv.Itoa(st.ID)
			s.Fields["siteName"] = st.Name
			s.transition(StepEnterPlayerID)
			return chat.Send(fmt.Sprintf("Enter your %s player ID:", st.Name))
		}
	}
	e.emit(s.Flow, "stale_selection")
	return e.renderSites(ctx, s, s.listPage())
}

func (e *Engine) renderSites(ctx context.Context, s *Session, page int) chat.Action {
	sites, err := e.api.BettingSites(ctx, true)
	if err != nil {
		return chat.Send(msgTransient)
	}
	if len(sites) == 0 {
		s.reset()
		return chat.Send(msgNoSites)
	}
	return e.renderList(s, listSite, "Choose your betting site:", siteItems(sites), page, true)
}

// enterPlayerID handles the site-local player id step shared by deposit and
// withdraw.
func (e *Engine) enterPlayerID(s *Session, ev chat.Event) chat.Action {
	if ev.Kind != chat.EventText {
		return e.invalidState(s)
	}
	id := strings.TrimSpace(ev.Text)
	if !validPlayerSiteID(id) {
		e.emit(s.Flow, "invalid_input")
		return chat.Send(msgInvalidSiteID)
	}
	s.Fields["playerSiteId"] = id

	if s.Flow == FlowWithdraw {
		s.transition(StepAwaitConfirm)
		return chat.SendChoices(withdrawSummary(s, e.cfg.Currency), confirmKeyboard())
	}
	s.transition(StepAwaitScreenshot)
	return chat.SendChoices(msgScreenshotHint,
		[][]chat.Choice{{{Label: "Skip", Token: tokSkipScreenshot}}})
}

func (e *Engine) awaitScreenshot(s *Session, ev chat.Event) chat.Action {
	switch {
	case ev.Kind == chat.EventSelection && ev.Token == tokSkipScreenshot:
		delete(s.Fields, "screenshot")
		s.transition(StepAwaitConfirm)
		return chat.SendChoices(depositSummary(s, e.cfg.Currency), confirmKeyboard())

	case ev.Kind == chat.EventFile:
		sf, err := e.intake.Stage(ev.File.Name, ev.File.ContentType, bytes.NewReader(ev.File.Data))
		if err != nil {
			if intake.IsValidation(err) {
				e.emit(FlowDeposit, "invalid_file")
				return chat.Send("❌ " + err.Error() + "\n" + msgScreenshotHint)
			}
			e.logger.Error("stage screenshot: %v", err)
			return chat.Send(msgTransient)
		}
		e.stageScreenshot(s.UserHandle, sf)
		s.Fields["screenshot"] = sf.Handle
		s.transition(StepAwaitConfirm)
		return chat.SendChoices(depositSummary(s, e.cfg.Currency), confirmKeyboard())

	default:
		return e.invalidState(s)
	}
}

func (e *Engine) submitDeposit(ctx context.Context, s *Session) chat.Action {
	id, err := e.ensureSubject(ctx, s)
	if err != nil {
		return e.backendFailure(s, err)
	}

	req := gateway.TransactionRequest{
		PlayerUUID:    id.PlayerUUID,
		Type:          gateway.TxDeposit,
		Amount:        s.Fields["amount"],
		Currency:      e.cfg.Currency,
		BettingSiteID: atoiField(s, "bettingSiteId"),
		PlayerSiteID:  s.Fields["playerSiteId"],
		DepositBankID: atoiField(s, "bankId"),
	}

	s.transition(StepSubmitting)

	var tx gateway.Transaction
	var subErr error
	if sf := e.takeStaged(s.UserHandle); sf != nil {
		subErr = e.intake.Commit(ctx, sf, func(ctx context.Context, att *gateway.Attachment) error {
			var cerr error
			tx, cerr = e.api.CreateTransaction(ctx, req, att)
			return cerr
		})
	} else {
		tx, subErr = e.api.CreateTransaction(ctx, req, nil)
	}

	if subErr != nil {
		// The staged copy is gone either way; a retry re-confirms without
		// the screenshot or the user resends one.
		hadScreenshot := s.Fields["screenshot"] != ""
		delete(s.Fields, "screenshot")
		if hadScreenshot {
			s.transition(StepAwaitScreenshot)
			fail := e.backendFailure(s, subErr)
			return chat.SendChoices(fail.Text+"\n\nPlease resend your screenshot.",
				[][]chat.Choice{{{Label: "Skip", Token: tokSkipScreenshot}}})
		}
		s.transition(StepAwaitConfirm)
		fail := e.backendFailure(s, subErr)
		return chat.SendChoices(fail.Text, confirmKeyboard())
	}

	e.emit(FlowDeposit, "completed")
	s.reset()
	return chat.Send(submittedText(tx))
}

func atoiField(s *Session, key string) int {
	n, _ := strconv.Atoi(s.Fields[key])
	return n
}
