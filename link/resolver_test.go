package link_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/link"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var day = time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)

func p(account, number string) ledger.Posting {
	return ledger.Posting{Account: account, Units: ledger.NewAmount(number, "USD")}
}

func tx(date time.Time, meta ledger.Metadata, postings ...ledger.Posting) ledger.Transaction {
	return ledger.Transaction{
		Header:    ledger.Header{Date: date, Meta: meta},
		Flag:      "*",
		Narration: "loan",
		Postings:  postings,
	}
}

func loanLink() link.Link {
	return link.Link{
		Path:              "alice.json",
		Account:           "Assets:Bob",
		ComplementPath:    "bob.json",
		ComplementAccount: "Liabilities:Alice",
	}
}

func aliceLends(date time.Time, amount string) ledger.Transaction {
	return tx(date, nil, p("Assets:Bob", amount), p("Assets:Cash", "-"+amount))
}

func bobBorrows(date time.Time, amount string) ledger.Transaction {
	return tx(date, nil, p("Assets:Wallet", amount), p("Liabilities:Alice", "-"+amount))
}

func resolve(ledgers []link.Ledger, links ...link.Link) link.Result {
	return link.NewResolver(zerolog.Nop()).Resolve(ledgers, links)
}

func transactions(entries []ledger.Entry) []ledger.Transaction {
	var out []ledger.Transaction
	for _, e := range entries {
		if t, ok := e.(ledger.Transaction); ok {
			out = append(out, t)
		}
	}
	return out
}

func accounts(t ledger.Transaction) []string {
	out := make([]string, 0, len(t.Postings))
	for _, p := range t.Postings {
		out = append(out, p.Account)
	}
	return out
}

// =============================================================================
// MATCHING AND MERGING
// =============================================================================

func TestResolve_MergesComplementaryPair(t *testing.T) {
	// GIVEN: Alice lends Bob 10 and both book it
	ledgers := []link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10")}},
		{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day, "10")}},
	}

	// WHEN: Resolving the link
	res := resolve(ledgers, loanLink())

	// THEN: One transaction remains, without the linked accounts
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Merged)
	txs := transactions(res.Entries)
	require.Len(t, txs, 1)
	assert.Equal(t, []string{"Assets:Cash", "Assets:Wallet"}, accounts(txs[0]))
	assert.Equal(t, day, txs[0].Date)
	assert.Equal(t, "loan", txs[0].Narration)
}

func TestResolve_OriginsLocateMergedPostings(t *testing.T) {
	// GIVEN: A loan preceded by an unrelated entry in Bob's ledger
	other := tx(day, nil, p("Expenses:Food", "3"), p("Assets:Wallet", "-3"))
	ledgers := []link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10")}},
		{Path: "bob.json", Entries: []ledger.Entry{other, bobBorrows(day, "10")}},
	}

	// WHEN: Resolving the link
	res := resolve(ledgers, loanLink())

	// THEN: Every output entry is located, the merged one posting by posting
	require.Len(t, res.Origins, len(res.Entries))
	assert.Equal(t, link.Origin{Ledger: 0, Entry: 0, Merged: true, Postings: []link.PostingOrigin{
		{Ledger: 0, Entry: 0, Posting: 1},
		{Ledger: 1, Entry: 1, Posting: 0},
	}}, res.Origins[0])
	assert.Equal(t, link.Origin{Ledger: 1, Entry: 0}, res.Origins[1])
}

func TestResolve_UnmatchedNearTransaction(t *testing.T) {
	ledgers := []link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10"), aliceLends(day, "5")}},
		{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day, "10")}},
	}

	res := resolve(ledgers, loanLink())

	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], link.ErrUnresolvedLink)
	assert.True(t, ledger.IsSoft(res.Errors[0]))
	var ue *link.UnresolvedLinkError
	require.ErrorAs(t, res.Errors[0], &ue)
	assert.Equal(t, "alice.json", ue.Path)
	assert.Len(t, transactions(res.Entries), 2, "the unmatched transaction is kept")
}

func TestResolve_OrphanComplement(t *testing.T) {
	// GIVEN: Bob books a second loan Alice never recorded
	ledgers := []link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10")}},
		{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day, "10"), bobBorrows(day, "7")}},
	}

	res := resolve(ledgers, loanLink())

	// THEN: The orphan is reported against Bob's ledger
	require.Len(t, res.Errors, 1)
	var ue *link.UnresolvedLinkError
	require.ErrorAs(t, res.Errors[0], &ue)
	assert.Equal(t, "bob.json", ue.Path)
	assert.Equal(t, "Liabilities:Alice", ue.Account)
	assert.Len(t, transactions(res.Entries), 2)
}

func TestResolve_DateWindow(t *testing.T) {
	t.Run("next day matches", func(t *testing.T) {
		res := resolve([]link.Ledger{
			{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10")}},
			{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day.AddDate(0, 0, 1), "10")}},
		}, loanLink())

		assert.Empty(t, res.Errors)
		assert.Equal(t, 1, res.Merged)
	})

	t.Run("two days later does not", func(t *testing.T) {
		res := resolve([]link.Ledger{
			{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10")}},
			{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day.AddDate(0, 0, 2), "10")}},
		}, loanLink())

		assert.Len(t, res.Errors, 2, "unmatched and orphan")
		assert.Zero(t, res.Merged)
	})

	t.Run("day before does not", func(t *testing.T) {
		res := resolve([]link.Ledger{
			{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10")}},
			{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day.AddDate(0, 0, -1), "10")}},
		}, loanLink())

		assert.Zero(t, res.Merged)
	})
}

func TestResolve_NearDuplicate(t *testing.T) {
	// GIVEN: Alice books the same loan twice on one day
	ledgers := []link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10"), aliceLends(day, "10")}},
		{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day, "10")}},
	}

	res := resolve(ledgers, loanLink())

	// THEN: The first is merged, the repeat is flagged and kept
	assert.Equal(t, 1, res.Merged)
	require.Len(t, res.Errors, 1)
	var ue *link.UnresolvedLinkError
	require.ErrorAs(t, res.Errors[0], &ue)
	assert.Contains(t, ue.Reason, "duplicates")
	assert.Len(t, transactions(res.Entries), 2)
}

func TestResolve_AmbiguousComplement(t *testing.T) {
	ledgers := []link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10")}},
		{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day, "10"), bobBorrows(day, "10")}},
	}

	res := resolve(ledgers, loanLink())

	assert.Zero(t, res.Merged)
	require.NotEmpty(t, res.Errors)
	var ue *link.UnresolvedLinkError
	require.ErrorAs(t, res.Errors[0], &ue)
	assert.Contains(t, ue.Reason, "2 complementary transactions")
	assert.Len(t, transactions(res.Entries), 3)
}

func TestResolve_ComplementClaimedTwice(t *testing.T) {
	// GIVEN: Alice lends 10 on two consecutive days, Bob books one loan on
	// the second day, inside the window of both
	ledgers := []link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10"), aliceLends(day.AddDate(0, 0, 1), "10")}},
		{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day.AddDate(0, 0, 1), "10")}},
	}

	// WHEN: Resolving the link
	res := resolve(ledgers, loanLink())

	// THEN: Nothing is merged and every transaction involved is reported
	assert.Zero(t, res.Merged)
	require.Len(t, res.Errors, 3)
	paths := map[string]int{}
	for _, err := range res.Errors {
		var ue *link.UnresolvedLinkError
		require.ErrorAs(t, err, &ue)
		paths[ue.Path]++
	}
	assert.Equal(t, map[string]int{"alice.json": 2, "bob.json": 1}, paths)
	assert.Len(t, transactions(res.Entries), 3)
}

func TestResolve_ExplicitLinkKey(t *testing.T) {
	near := aliceLends(day, "10")
	near.Meta = ledger.Metadata{"link": "loan-1"}
	far := bobBorrows(day, "10")

	t.Run("key must match", func(t *testing.T) {
		res := resolve([]link.Ledger{
			{Path: "alice.json", Entries: []ledger.Entry{near}},
			{Path: "bob.json", Entries: []ledger.Entry{far}},
		}, loanLink())
		assert.Zero(t, res.Merged)
	})

	t.Run("same key merges", func(t *testing.T) {
		keyed := far.WithMeta(ledger.Metadata{"link": "loan-1"})
		res := resolve([]link.Ledger{
			{Path: "alice.json", Entries: []ledger.Entry{near}},
			{Path: "bob.json", Entries: []ledger.Entry{keyed}},
		}, loanLink())
		assert.Equal(t, 1, res.Merged)
		txs := transactions(res.Entries)
		require.Len(t, txs, 1)
		assert.Equal(t, "loan-1", txs[0].Meta["link"])
	})
}

func TestResolve_ChainedComponent(t *testing.T) {
	// GIVEN: Money moves from A through B to C, each booking their side
	a := tx(day, nil, p("Assets:B", "10"), p("Assets:Cash", "-10"))
	b := tx(day, nil, p("Liabilities:A", "-10"), p("Assets:C", "10"))
	c := tx(day, nil, p("Liabilities:B", "-10"), p("Assets:Cash", "10"))
	ledgers := []link.Ledger{
		{Path: "a.json", Entries: []ledger.Entry{a}},
		{Path: "b.json", Entries: []ledger.Entry{b}},
		{Path: "c.json", Entries: []ledger.Entry{c}},
	}

	// WHEN: Resolving both links
	res := resolve(ledgers,
		link.Link{Path: "a.json", Account: "Assets:B", ComplementPath: "b.json", ComplementAccount: "Liabilities:A"},
		link.Link{Path: "b.json", Account: "Assets:C", ComplementPath: "c.json", ComplementAccount: "Liabilities:B"})

	// THEN: The three transactions collapse into one
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Merged)
	txs := transactions(res.Entries)
	require.Len(t, txs, 1)
	assert.Equal(t, []string{"Assets:Cash", "Assets:Cash"}, accounts(txs[0]))
}

func TestResolve_MergeConflict(t *testing.T) {
	near := aliceLends(day, "10").WithMeta(ledger.Metadata{"category": "loan", ledger.MetaFilename: "alice.json"})
	far := bobBorrows(day, "10").WithMeta(ledger.Metadata{"category": "gift", ledger.MetaFilename: "bob.json"})

	res := resolve([]link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{near}},
		{Path: "bob.json", Entries: []ledger.Entry{far}},
	}, loanLink())

	assert.Zero(t, res.Merged)
	require.Len(t, res.Errors, 1)
	var mc *link.MergeConflictError
	require.ErrorAs(t, res.Errors[0], &mc)
	assert.Equal(t, "category", mc.Key)
	assert.Len(t, transactions(res.Entries), 2, "members are emitted unmerged")
}

func TestResolve_PositionKeysDoNotConflict(t *testing.T) {
	near := aliceLends(day, "10").WithMeta(ledger.Metadata{ledger.MetaFilename: "alice.json", ledger.MetaLineno: 3})
	far := bobBorrows(day, "10").WithMeta(ledger.Metadata{ledger.MetaFilename: "bob.json", ledger.MetaLineno: 9})

	res := resolve([]link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{near}},
		{Path: "bob.json", Entries: []ledger.Entry{far}},
	}, loanLink())

	require.Equal(t, 1, res.Merged)
	merged := transactions(res.Entries)[0]
	assert.Equal(t, "alice.json", merged.Meta[ledger.MetaFilename])
}

func TestResolve_MergeDoesNotAliasInputs(t *testing.T) {
	near := aliceLends(day, "10")
	near.Postings[1].Meta = ledger.Metadata{"memo": "cash"}

	res := resolve([]link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{near}},
		{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day, "10")}},
	}, loanLink())

	merged := transactions(res.Entries)[0]
	merged.Postings[0].Meta["memo"] = "changed"
	assert.Equal(t, "cash", near.Postings[1].Meta["memo"])
}

func TestResolve_KeepsOtherEntries(t *testing.T) {
	open := ledger.Open{Header: ledger.Header{Date: day}, Account: "Assets:Cash"}
	res := resolve([]link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{open, aliceLends(day, "10")}},
		{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day, "10")}},
	}, loanLink())

	require.Len(t, res.Entries, 2)
	assert.Equal(t, ledger.KindOpen, res.Entries[0].Kind())
	assert.Equal(t, ledger.KindTransaction, res.Entries[1].Kind())
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestResolve_UnknownLedger(t *testing.T) {
	l := loanLink()
	l.ComplementPath = "carol.json"

	res := resolve([]link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10")}},
		{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day, "10")}},
	}, l)

	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], link.ErrInvalidLink)
	assert.Zero(t, res.Merged)
	assert.Len(t, res.Entries, 2)
}

func TestResolve_EndpointReused(t *testing.T) {
	second := loanLink()
	second.ComplementAccount = "Liabilities:Other"

	res := resolve([]link.Ledger{
		{Path: "alice.json", Entries: []ledger.Entry{aliceLends(day, "10")}},
		{Path: "bob.json", Entries: []ledger.Entry{bobBorrows(day, "10")}},
	}, loanLink(), second)

	require.Len(t, res.Errors, 2)
	for _, err := range res.Errors {
		assert.ErrorIs(t, err, link.ErrInvalidLink)
	}
	assert.Zero(t, res.Merged)
}

func TestFeature(t *testing.T) {
	txn := tx(day, ledger.Metadata{"link": "k"},
		p("Assets:Bob", "5"), p("Assets:Bob", "-2.50"), p("Assets:Cash", "-2.5"))

	assert.Equal(t, "k|-2.5 USD,5 USD", link.Feature(txn, "Assets:Bob", false))
	assert.Equal(t, "k|-5 USD,2.5 USD", link.Feature(txn, "Assets:Bob", true))
	assert.Equal(t, "", link.Feature(txn, "Assets:Other", false))
}
