package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// CANONICAL RECORDS CSV
// =============================================================================
//
//	date,state,district,statistic,value,mode,source
//	2020-05-01,KA,Bengaluru Urban,confirmed,12,delta,
//
// state is a code or a name. district, mode and source are optional; the
// mode defaults from the statistic kind.

var recordColumns = []string{"date", "state", "district", "statistic", "value", "mode", "source"}

// header maps lower-cased column names to indexes.
type header map[string]int

func readHeader(r *csv.Reader) (header, error) {
	row, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := make(header, len(row))
	for i, col := range row {
		h[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return h, nil
}

func (h header) require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if _, ok := h[strings.ToLower(c)]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// get returns the trimmed cell of col, empty when absent.
func (h header) get(row []string, col string) string {
	i, ok := h[strings.ToLower(col)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// ParseRecords reads a canonical records CSV.
func (n *Normalizer) ParseRecords(name string, r io.Reader) (*Batch, error) {
	cr := newCSVReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := h.require(recordColumns[0], recordColumns[1], recordColumns[3], recordColumns[4]); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	b := &Batch{Feed: name}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", name, line, err)
		}
		rec, field, value, err := n.canonicalRecord(h, row)
		if err != nil {
			n.reject(b, line, field, value, err)
			continue
		}
		rec.Line = line
		b.add(rec)
	}
	return b, nil
}

func (n *Normalizer) canonicalRecord(h header, row []string) (rec ledger.Record, field, value string, err error) {
	raw := h.get(row, "date")
	date, err := n.date(ledger.DateLayout, raw)
	if err != nil {
		return rec, "date", raw, err
	}

	raw = h.get(row, "state")
	state, err := n.reg.ResolveStateCode(raw)
	if err != nil {
		if state, err = n.reg.ResolveState(raw); err != nil {
			return rec, "state", raw, err
		}
	}
	region := ledger.State(state)
	if d := h.get(row, "district"); d != "" && state != ledger.CountryCode {
		if region, err = n.reg.ResolveDistrict(state, d); err != nil {
			return rec, "district", d, err
		}
	}

	raw = h.get(row, "statistic")
	stat, err := ledger.ParseStatistic(raw)
	if err != nil {
		return rec, "statistic", raw, err
	}

	raw = h.get(row, "value")
	v, ok, err := ParseCount(raw)
	if err != nil {
		return rec, "value", raw, err
	}
	if !ok {
		return rec, "value", raw, fmt.Errorf("%w: empty value", ledger.ErrMalformedRecord)
	}

	mode := ledger.ModeDelta
	if stat.IsSnapshot() {
		mode = ledger.ModeSnapshot
	}
	if raw = h.get(row, "mode"); raw != "" {
		if mode, err = ledger.ParseMode(raw); err != nil {
			return rec, "mode", raw, err
		}
	}

	return ledger.Record{
		Date:      date,
		Region:    region,
		Statistic: stat,
		Value:     v,
		Mode:      mode,
		Source:    h.get(row, "source"),
	}, "", "", nil
}
