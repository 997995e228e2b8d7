/*
ledger.go - JSON Lines ledger documents

PURPOSE:
  Converts between ledger entries and their JSON form. A ledger file holds
  one entry per line, tagged by "type". The decoder records the file name
  and line number of each entry in its metadata (filename, lineno) so that
  every error the engine logs points back at its source.

JSON SCHEMA:
  {"type":"open","date":"2024-01-01","account":"Assets:Joint","currencies":["USD"]}
  {"type":"policy","date":"2024-01-01","name":"Expenses:*",
   "meta":{"share-Alice":1,"share-Bob":1}}
  {"type":"transaction","date":"2024-01-15","flag":"*","narration":"Rent",
   "postings":[
     {"account":"Expenses:Rent","units":{"number":"400","currency":"USD"}},
     {"account":"Assets:Alice","units":{"number":"-400","currency":"USD"},
      "meta":{"share-Alice":1}}]}
  {"type":"balance","date":"2024-02-01","account":"Assets:Joint",
   "amount":{"number":"100","currency":"USD"},"tolerance":"0.01"}
  {"type":"include","date":"2024-01-01","path":"bob.jsonl"}
  {"type":"link","date":"2024-01-01","path":"alice.jsonl","account":"Assets:Bob",
   "complement_path":"bob.jsonl","complement_account":"Liabilities:Alice"}

  Blank lines and lines starting with '#' are skipped. Numbers in metadata
  decode to decimal.Decimal; amounts accept decimal strings or numbers.

SEE ALSO:
  - loader.go: FileLoader reads these files for the engine
  - definition.go: JSON policy definitions
*/
package factory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-share/ledger"
)

const maxLineSize = 1 << 20

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// AmountJSON is the JSON representation of an amount.
type AmountJSON struct {
	Number   decimal.Decimal `json:"number"`
	Currency string          `json:"currency"`
}

// CostJSON is the JSON representation of a lot cost.
type CostJSON struct {
	Number   *decimal.Decimal `json:"number,omitempty"`
	Total    *decimal.Decimal `json:"total,omitempty"`
	Currency string           `json:"currency"`
	Date     string           `json:"date,omitempty"`
	Label    string           `json:"label,omitempty"`
}

// PostingJSON is the JSON representation of a posting.
type PostingJSON struct {
	Account string         `json:"account"`
	Units   AmountJSON     `json:"units"`
	Cost    *CostJSON      `json:"cost,omitempty"`
	Price   *AmountJSON    `json:"price,omitempty"`
	Flag    string         `json:"flag,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// EntryJSON is the JSON representation of any entry. Only the fields of
// the variant named by Type are read.
type EntryJSON struct {
	Type string         `json:"type"`
	Date string         `json:"date"`
	Meta map[string]any `json:"meta,omitempty"`

	Account    string           `json:"account,omitempty"`
	Currencies []string         `json:"currencies,omitempty"`
	Amount     *AmountJSON      `json:"amount,omitempty"`
	Tolerance  *decimal.Decimal `json:"tolerance,omitempty"`
	Source     string           `json:"source,omitempty"`

	Flag      string        `json:"flag,omitempty"`
	Payee     string        `json:"payee,omitempty"`
	Narration string        `json:"narration,omitempty"`
	Tags      []string      `json:"tags,omitempty"`
	Links     []string      `json:"links,omitempty"`
	Postings  []PostingJSON `json:"postings,omitempty"`

	Name              string `json:"name,omitempty"`
	Path              string `json:"path,omitempty"`
	ComplementPath    string `json:"complement_path,omitempty"`
	ComplementAccount string `json:"complement_account,omitempty"`
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// ParseLedger reads a JSON Lines ledger. Lines that cannot be decoded are
// reported as ParseErrors and skipped; the returned error is for I/O only.
func ParseLedger(r io.Reader, filename string) ([]ledger.Entry, []error, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var entries []ledger.Entry
	var errs []error
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		ej, err := DecodeEntry(raw)
		if err != nil {
			errs = append(errs, &ParseError{Filename: filename, Line: line, Err: err})
			continue
		}
		if ej.Meta == nil {
			ej.Meta = map[string]any{}
		}
		ej.Meta[ledger.MetaFilename] = filename
		ej.Meta[ledger.MetaLineno] = line

		entry, err := FromJSON(ej)
		if err != nil {
			errs = append(errs, &ParseError{Filename: filename, Line: line, Err: err})
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return entries, errs, nil
}

// EncodeEntries writes entries as JSON Lines.
func EncodeEntries(w io.Writer, entries []ledger.Entry) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		if err := enc.Encode(ToJSON(e)); err != nil {
			return fmt.Errorf("failed to encode %s entry: %w", e.Kind(), err)
		}
	}
	return nil
}

// DecodeEntry decodes one JSON object. Metadata numbers stay json.Number
// until FromJSON converts them.
func DecodeEntry(raw []byte) (EntryJSON, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var ej EntryJSON
	if err := dec.Decode(&ej); err != nil {
		return EntryJSON{}, fmt.Errorf("failed to parse entry JSON: %w", err)
	}
	return ej, nil
}

// =============================================================================
// JSON -> ENTRY
// =============================================================================

// FromJSON converts the JSON form of an entry back into an entry.
func FromJSON(ej EntryJSON) (ledger.Entry, error) {
	kind, ok := ledger.ParseKind(ej.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, ej.Type)
	}
	date, err := parseDate(ej.Date)
	if err != nil {
		return nil, err
	}
	h := ledger.Header{Date: date, Meta: decodeMeta(ej.Meta)}

	switch kind {
	case ledger.KindOpen:
		if err := requireFields("account", ej.Account); err != nil {
			return nil, err
		}
		return ledger.Open{Header: h, Account: ej.Account, Currencies: ej.Currencies}, nil

	case ledger.KindClose:
		if err := requireFields("account", ej.Account); err != nil {
			return nil, err
		}
		return ledger.Close{Header: h, Account: ej.Account}, nil

	case ledger.KindBalance:
		if err := requireFields("account", ej.Account); err != nil {
			return nil, err
		}
		if ej.Amount == nil {
			return nil, fmt.Errorf("%w: amount", ErrMissingField)
		}
		amount, err := ej.Amount.amount()
		if err != nil {
			return nil, err
		}
		b := ledger.Balance{Header: h, Account: ej.Account, Amount: amount}
		if ej.Tolerance != nil {
			b.Tolerance = decimal.NewNullDecimal(*ej.Tolerance)
		}
		return b, nil

	case ledger.KindPad:
		if err := requireFields("account", ej.Account, "source", ej.Source); err != nil {
			return nil, err
		}
		return ledger.Pad{Header: h, Account: ej.Account, Source: ej.Source}, nil

	case ledger.KindTransaction:
		postings := make([]ledger.Posting, 0, len(ej.Postings))
		for i, pj := range ej.Postings {
			p, err := pj.posting()
			if err != nil {
				return nil, fmt.Errorf("posting %d: %w", i+1, err)
			}
			postings = append(postings, p)
		}
		return ledger.Transaction{
			Header:    h,
			Flag:      ej.Flag,
			Payee:     ej.Payee,
			Narration: ej.Narration,
			Tags:      ej.Tags,
			Links:     ej.Links,
			Postings:  postings,
		}, nil

	case ledger.KindPolicy:
		if err := requireFields("name", ej.Name); err != nil {
			return nil, err
		}
		return ledger.PolicyDirective{Header: h, Name: ej.Name}, nil

	case ledger.KindProportionate:
		if err := requireFields("account", ej.Account); err != nil {
			return nil, err
		}
		return ledger.ProportionateAssertion{Header: h, Account: ej.Account}, nil

	case ledger.KindInclude:
		if err := requireFields("path", ej.Path); err != nil {
			return nil, err
		}
		return ledger.Include{Header: h, Path: ej.Path}, nil

	case ledger.KindLink:
		if err := requireFields(
			"path", ej.Path,
			"account", ej.Account,
			"complement_path", ej.ComplementPath,
			"complement_account", ej.ComplementAccount,
		); err != nil {
			return nil, err
		}
		return ledger.LinkDirective{
			Header:            h,
			Path:              ej.Path,
			Account:           ej.Account,
			ComplementPath:    ej.ComplementPath,
			ComplementAccount: ej.ComplementAccount,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, ej.Type)
}

func (aj AmountJSON) amount() (ledger.Amount, error) {
	if aj.Currency == "" {
		return ledger.Amount{}, fmt.Errorf("%w: currency", ErrMissingField)
	}
	return ledger.Amount{Number: aj.Number, Currency: aj.Currency}, nil
}

func (pj PostingJSON) posting() (ledger.Posting, error) {
	if err := requireFields("account", pj.Account); err != nil {
		return ledger.Posting{}, err
	}
	units, err := pj.Units.amount()
	if err != nil {
		return ledger.Posting{}, err
	}
	p := ledger.Posting{Account: pj.Account, Units: units, Flag: pj.Flag, Meta: decodeMeta(pj.Meta)}

	if pj.Price != nil {
		price, err := pj.Price.amount()
		if err != nil {
			return ledger.Posting{}, fmt.Errorf("price: %w", err)
		}
		p.Price = &price
	}
	if pj.Cost != nil {
		cj := pj.Cost
		if cj.Currency == "" {
			return ledger.Posting{}, fmt.Errorf("cost: %w: currency", ErrMissingField)
		}
		if cj.Number == nil && cj.Total == nil {
			return ledger.Posting{}, fmt.Errorf("cost: %w: number or total", ErrMissingField)
		}
		cost := &ledger.Cost{Currency: cj.Currency, Label: cj.Label}
		if cj.Number != nil {
			cost.Number = decimal.NewNullDecimal(*cj.Number)
		}
		if cj.Total != nil {
			cost.Total = decimal.NewNullDecimal(*cj.Total)
		}
		if cj.Date != "" {
			d, err := parseDate(cj.Date)
			if err != nil {
				return ledger.Posting{}, fmt.Errorf("cost: %w", err)
			}
			cost.Date = d
		}
		p.Cost = cost
	}
	return p, nil
}

// =============================================================================
// ENTRY -> JSON
// =============================================================================

// ToJSON converts an entry to its JSON form.
func ToJSON(e ledger.Entry) EntryJSON {
	h := e.Head()
	ej := EntryJSON{
		Type: e.Kind().String(),
		Date: h.Date.Format(ledger.DateLayout),
		Meta: encodeMeta(h.Meta),
	}
	switch d := e.(type) {
	case ledger.Open:
		ej.Account = d.Account
		ej.Currencies = d.Currencies
	case ledger.Close:
		ej.Account = d.Account
	case ledger.Balance:
		ej.Account = d.Account
		ej.Amount = amountJSON(d.Amount)
		if d.Tolerance.Valid {
			tol := d.Tolerance.Decimal
			ej.Tolerance = &tol
		}
	case ledger.Pad:
		ej.Account = d.Account
		ej.Source = d.Source
	case ledger.Transaction:
		ej.Flag = d.Flag
		ej.Payee = d.Payee
		ej.Narration = d.Narration
		ej.Tags = d.Tags
		ej.Links = d.Links
		ej.Postings = make([]PostingJSON, 0, len(d.Postings))
		for _, p := range d.Postings {
			ej.Postings = append(ej.Postings, postingJSON(p))
		}
	case ledger.PolicyDirective:
		ej.Name = d.Name
	case ledger.ProportionateAssertion:
		ej.Account = d.Account
	case ledger.Include:
		ej.Path = d.Path
	case ledger.LinkDirective:
		ej.Path = d.Path
		ej.Account = d.Account
		ej.ComplementPath = d.ComplementPath
		ej.ComplementAccount = d.ComplementAccount
	}
	return ej
}

func amountJSON(a ledger.Amount) *AmountJSON {
	return &AmountJSON{Number: a.Number, Currency: a.Currency}
}

func postingJSON(p ledger.Posting) PostingJSON {
	pj := PostingJSON{
		Account: p.Account,
		Units:   *amountJSON(p.Units),
		Flag:    p.Flag,
		Meta:    encodeMeta(p.Meta),
	}
	if p.Price != nil {
		pj.Price = amountJSON(*p.Price)
	}
	if p.Cost != nil {
		cj := &CostJSON{Currency: p.Cost.Currency, Label: p.Cost.Label}
		if p.Cost.Number.Valid {
			n := p.Cost.Number.Decimal
			cj.Number = &n
		}
		if p.Cost.Total.Valid {
			t := p.Cost.Total.Decimal
			cj.Total = &t
		}
		if !p.Cost.Date.IsZero() {
			cj.Date = p.Cost.Date.Format(ledger.DateLayout)
		}
		pj.Cost = cj
	}
	return pj
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: date", ErrMissingField)
	}
	d, err := time.Parse(ledger.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q", ErrBadDate, s)
	}
	return d, nil
}

// requireFields takes name/value pairs and fails on the first empty value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, pairs[i])
		}
	}
	return nil
}

func decodeMeta(m map[string]any) ledger.Metadata {
	if len(m) == 0 {
		return nil
	}
	out := make(ledger.Metadata, len(m))
	for k, v := range m {
		if n, ok := v.(json.Number); ok {
			if d, err := decimal.NewFromString(n.String()); err == nil {
				out[k] = d
				continue
			}
			out[k] = n.String()
			continue
		}
		out[k] = v
	}
	return out
}

func encodeMeta(m ledger.Metadata) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case decimal.Decimal:
			out[k] = json.Number(x.String())
		case time.Time:
			out[k] = x.Format(ledger.DateLayout)
		default:
			out[k] = v
		}
	}
	return out
}
