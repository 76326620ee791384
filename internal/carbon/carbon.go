// Package carbon provides access to per-datacenter, per-hour grid carbon
// intensity and renewable-fraction data backing the placement environment's
// hourly clock.
package carbon

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sort"

	"github.com/samuelfneumann/vmplacement/utils/floatutils"
)

// Row is one hour's carbon reading for a single datacenter.
type Row struct {
	DatacenterID     int
	Hour             int     // hour-of-simulation, 0-indexed
	CarbonIntensity  float64 // gCO2/kWh
	RenewableFrac    float64 // fraction in [0, 1]
}

// Table is the interface the placement environment depends on to look up
// carbon data; implementations must return rows in non-decreasing Hour
// order for each datacenter so Row can binary search.
type Table interface {
	// Row returns the carbon reading for dc at the given hour, wrapping
	// around (modulo the table's period) if hour exceeds the loaded
	// horizon, and reports whether the datacenter has any data at all.
	Row(dc, hour int) (Row, bool)

	// Datacenters returns the set of datacenter IDs this table has data
	// for.
	Datacenters() []int
}

// CSVTable is a Table backed by an in-memory CSV-loaded dataset, keyed by
// datacenter ID with each datacenter's rows sorted by Hour.
type CSVTable struct {
	byDC map[int][]Row
}

// LoadCSV reads a carbon dataset from path. Expected columns (header row
// required): datacenter_id,hour,carbon_intensity,renewable_frac
func LoadCSV(path string) (*CSVTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("carbon: cannot open %q: %w", path, err)
	}
	defer f.Close()

	return loadCSVReader(f)
}

func loadCSVReader(r io.Reader) (*CSVTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("carbon: reading header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[name] = i
	}
	for _, want := range []string{"datacenter_id", "hour", "carbon_intensity", "renewable_frac"} {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("carbon: missing required column %q", want)
		}
	}

	t := &CSVTable{byDC: make(map[int][]Row)}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("carbon: reading row: %w", err)
		}

		var row Row
		if _, err := fmt.Sscanf(rec[cols["datacenter_id"]], "%d", &row.DatacenterID); err != nil {
			return nil, fmt.Errorf("carbon: bad datacenter_id %q: %w", rec[cols["datacenter_id"]], err)
		}
		if _, err := fmt.Sscanf(rec[cols["hour"]], "%d", &row.Hour); err != nil {
			return nil, fmt.Errorf("carbon: bad hour %q: %w", rec[cols["hour"]], err)
		}
		if _, err := fmt.Sscanf(rec[cols["carbon_intensity"]], "%g", &row.CarbonIntensity); err != nil {
			return nil, fmt.Errorf("carbon: bad carbon_intensity %q: %w", rec[cols["carbon_intensity"]], err)
		}
		if _, err := fmt.Sscanf(rec[cols["renewable_frac"]], "%g", &row.RenewableFrac); err != nil {
			return nil, fmt.Errorf("carbon: bad renewable_frac %q: %w", rec[cols["renewable_frac"]], err)
		}

		t.byDC[row.DatacenterID] = append(t.byDC[row.DatacenterID], row)
	}

	for dc := range t.byDC {
		rows := t.byDC[dc]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Hour < rows[j].Hour })
		t.byDC[dc] = rows
	}

	return t, nil
}

// Row implements Table. Hours beyond the loaded horizon wrap around modulo
// the datacenter's last loaded hour plus one, so a short dataset can drive
// an arbitrarily long simulation.
func (t *CSVTable) Row(dc, hour int) (Row, bool) {
	rows, ok := t.byDC[dc]
	if !ok || len(rows) == 0 {
		return Row{}, false
	}

	period := rows[len(rows)-1].Hour + 1
	h := hour % period

	// sort.Search finds the first row with Hour >= h; intutils' tree-based
	// BinarySearch is built for set membership over unique ints, not for
	// locating an insertion point in an ordered slice with possible gaps,
	// so the stdlib binary search is the right primitive here.
	idx := sort.Search(len(rows), func(i int) bool { return rows[i].Hour >= h })
	if idx == len(rows) || rows[idx].Hour != h {
		if idx > 0 {
			idx--
		} else {
			idx = 0
		}
	}
	return rows[idx], true
}

// NewSynthetic builds an in-memory CSVTable with a deterministic diurnal
// carbon-intensity curve for each of the given datacenter IDs, for runs
// that have not been pointed at a real carbon dataset CSV. Intensity
// follows a sinusoid peaking at night (fossil-heavy grid) and troughing
// at midday (solar-heavy grid); renewable fraction moves inversely.
func NewSynthetic(datacenterIDs []int, hoursPerDay int, seed int64) *CSVTable {
	if hoursPerDay <= 0 {
		hoursPerDay = 24
	}
	rng := rand.New(rand.NewSource(seed))

	t := &CSVTable{byDC: make(map[int][]Row)}
	for _, dc := range datacenterIDs {
		baseline := 300 + 200*rng.Float64() // gCO2/kWh grid baseline, varies per datacenter
		rows := make([]Row, hoursPerDay)
		for h := 0; h < hoursPerDay; h++ {
			phase := 2 * math.Pi * float64(h) / float64(hoursPerDay)
			swing := 0.4 * math.Sin(phase+math.Pi/2) // trough near midday
			rows[h] = Row{
				DatacenterID:    dc,
				Hour:            h,
				CarbonIntensity: baseline * (1 + swing),
				RenewableFrac:   floatutils.Clip(0.5-swing, 0, 1),
			}
		}
		t.byDC[dc] = rows
	}
	return t
}

// Datacenters implements Table.
func (t *CSVTable) Datacenters() []int {
	ids := make([]int, 0, len(t.byDC))
	for dc := range t.byDC {
		ids = append(ids, dc)
	}
	sort.Ints(ids)
	return ids
}
