package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paybot/pkg/chat"
	"paybot/pkg/gateway"
	"paybot/pkg/selector"
	"paybot/pkg/store"
)

// startHistory shows one page of the user's transactions. The backend owns
// the pagination here; page is zero-based locally, one-based on the wire.
func (e *Engine) startHistory(ctx context.Context, s *Session, page int, edit bool) chat.Action {
	id, err := e.store.Identity(ctx, s.UserHandle)
	if errors.Is(err, store.ErrNotFound) {
		return chat.SendChoices(msgNeedAccount, mainMenu(false))
	}
	if err != nil {
		e.logger.Error("identity lookup: %v", err)
		return chat.Send(msgTransient)
	}

	tp, err := e.api.Transactions(ctx, id.PlayerUUID, page+1, e.cfg.PageSize)
	if err != nil {
		return e.backendFailure(s, err)
	}
	if len(tp.Transactions) == 0 && page == 0 {
		s.reset()
		return chat.SendChoices(msgHistoryEmpty, mainMenu(id.Kind == store.KindRegistered))
	}

	if s.Flow != FlowHistory {
		s.enter(FlowHistory, StepBrowsing)
	}

	items := make([]selector.Item, 0, len(tp.Transactions))
	rows := make([][]chat.Choice, 0, len(tp.Transactions)+1)
	for _, tx := range tp.Transactions {
		it := selector.Item{
			Label: historyLine(tx),
			Token: listTransaction + ":" + tx.TransactionUUID,
		}
		items = append(items, it)
		rows = append(rows, []chat.Choice{{Label: it.Label, Token: it.Token}})
	}

	if nav := historyNav(page, len(tp.Transactions), e.cfg.PageSize, totalPages(tp)); nav != nil {
		rows = append(rows, nav)
	}
	s.List = selector.NewListContext(listHistory, items, page, e.now())

	title := "Your transactions (tap one for details):"
	if edit {
		return chat.Edit(title, rows)
	}
	return chat.SendChoices(title, rows)
}

// totalPages digs the page count out of the backend's loosely-shaped
// pagination object, zero when absent.
func totalPages(tp gateway.TransactionPage) int {
	for _, key := range []string{"totalPages", "pages"} {
		if v, ok := tp.Pagination[key]; ok {
			if f, ok := v.(float64); ok && f > 0 {
				return int(f)
			}
		}
	}
	return 0
}

func historyNav(page, got, pageSize, total int) []chat.Choice {
	hasPrev := page > 0
	hasNext := got == pageSize
	if total > 0 {
		hasNext = page+1 < total
	}
	if !hasPrev && !hasNext {
		return nil
	}
	var nav []chat.Choice
	if hasPrev {
		nav = append(nav, chat.Choice{Label: "« Prev", Token: selector.NavToken(listHistory, page-1)})
	}
	if total > 0 {
		nav = append(nav, chat.Choice{Label: fmt.Sprintf("%d/%d", page+1, total), Token: selector.NavToken(listHistory, page)})
	}
	if hasNext {
		nav = append(nav, chat.Choice{Label: "Next »", Token: selector.NavToken(listHistory, page+1)})
	}
	return nav
}

func (e *Engine) handleHistory(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	if ev.Kind != chat.EventSelection {
		return e.invalidState(s)
	}

	if page, ok := selector.ParseNavToken(listHistory, ev.Token); ok {
		return e.startHistory(ctx, s, page, true)
	}

	uuid, ok := strings.CutPrefix(ev.Token, listTransaction+":")
	if !ok {
		return e.invalidState(s)
	}

	switch e.checkSelection(s, listHistory, ev.Token) {
	case selExpired:
		s.List = nil
		return chat.Edit(msgExpired, nil)
	case selStale:
		e.emit(FlowHistory, "stale_selection")
		return e.startHistory(ctx, s, s.listPage(), true)
	}

	id, err := e.store.Identity(ctx, s.UserHandle)
	if err != nil {
		e.logger.Error("identity lookup: %v", err)
		return chat.Send(msgTransient)
	}
	tx, err := e.api.Transaction(ctx, uuid, id.PlayerUUID)
	if err != nil {
		return e.backendFailure(s, err)
	}
	back := [][]chat.Choice{{
		{Label: "« Back", Token: selector.NavToken(listHistory, s.listPage())},
	}}
	return chat.SendChoices(transactionDetail(tx), back)
}
