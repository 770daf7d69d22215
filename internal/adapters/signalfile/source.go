// Package signalfile bridges external strategy processes to the engine. A
// collaborator writes one JSON document per symbol into a drop directory; the
// engine polls it on every slow cycle. Stale documents are ignored so a dead
// collaborator never keeps feeding old signals.
package signalfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cryptoAutoPilot/internal/domain"
	"cryptoAutoPilot/internal/ports"
)

const defaultMaxAge = 10 * time.Minute

// document is the on-disk signal format.
type document struct {
	Action                 string    `json:"action"`
	Confidence             float64   `json:"confidence"`
	SuggestedLeverage      float64   `json:"suggested_leverage,omitempty"`
	SuggestedSizePct       float64   `json:"suggested_size_pct,omitempty"`
	SuggestedStopLossPct   float64   `json:"suggested_stop_loss_pct,omitempty"`
	SuggestedTakeProfitPct float64   `json:"suggested_take_profit_pct,omitempty"`
	GeneratedAt            time.Time `json:"generated_at"`
}

// Source reads signals from <dir>/<symbol>.json.
type Source struct {
	dir    string
	maxAge time.Duration
	logger ports.Logger

	now func() time.Time
}

// New creates a file-backed signal source. maxAge bounds how old a document's
// generated_at may be before it is discarded; zero applies the default.
func New(dir string, maxAge time.Duration, logger ports.Logger) (*Source, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: signal directory is required", ports.ErrConfigurationError)
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create signal directory %s: %w", dir, err)
	}
	return &Source{dir: dir, maxAge: maxAge, logger: logger, now: time.Now}, nil
}

func (s *Source) Name() string { return "signalfile" }

// Collect reads the symbol's document. A missing file means no opinion and is
// not an error.
func (s *Source) Collect(ctx context.Context, symbol string) ([]domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, strings.ToUpper(symbol)+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read signal file %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed signal file %s: %v", ports.ErrInvalidRequest, path, err)
	}

	action, err := parseAction(doc.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ports.ErrInvalidRequest, path, err)
	}

	age := s.now().Sub(doc.GeneratedAt)
	if doc.GeneratedAt.IsZero() || age > s.maxAge {
		s.logger.Debug(ctx, "Discarding stale signal document", map[string]interface{}{
			"symbol": symbol,
			"path":   path,
			"age":    age.String(),
		})
		return nil, nil
	}

	sig := domain.Signal{
		Symbol:                 symbol,
		Action:                 action,
		Confidence:             doc.Confidence,
		SuggestedLeverage:      doc.SuggestedLeverage,
		SuggestedSizePct:       doc.SuggestedSizePct,
		SuggestedStopLossPct:   doc.SuggestedStopLossPct,
		SuggestedTakeProfitPct: doc.SuggestedTakeProfitPct,
		SourceID:               s.Name(),
		Timestamp:              doc.GeneratedAt,
	}
	return []domain.Signal{sig}, nil
}

func parseAction(raw string) (domain.SignalAction, error) {
	switch domain.SignalAction(strings.ToUpper(strings.TrimSpace(raw))) {
	case domain.ActionOpenLong:
		return domain.ActionOpenLong, nil
	case domain.ActionOpenShort:
		return domain.ActionOpenShort, nil
	case domain.ActionClose:
		return domain.ActionClose, nil
	case domain.ActionHold, "":
		return domain.ActionHold, nil
	default:
		return "", fmt.Errorf("unknown signal action %q", raw)
	}
}
