package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"tagsync/internal/logging"
	"tagsync/internal/semantic"
	"tagsync/internal/tagcodec"
)

// Allocator hands out fresh unit ids.
type Allocator interface {
	Allocate(kind semantic.Kind, parent uuid.UUID) (uuid.UUID, error)
}

// Options configure a Classifier.
type Options struct {
	MaxProposals int
	Logger       *slog.Logger
}

// Proposal is an accepted candidate with its allocated unit.
type Proposal struct {
	Index      int                 `json:"index"`
	Unit       semantic.Unit       `json:"unit"`
	Marker     string              `json:"marker"`
	Confidence float64             `json:"confidence,omitempty"`
	Source     semantic.SourceType `json:"source_type"`
}

// Result is the outcome of one classification.
type Result struct {
	Proposals []Proposal `json:"proposals"`
	Rejected  []string   `json:"rejected,omitempty"`
	Raw       string     `json:"-"`
}

// Classifier validates producer output and allocates ids for it.
type Classifier struct {
	producer Producer
	ids      Allocator
	opts     Options
	logger   *slog.Logger
}

// New constructs a classifier.
func New(producer Producer, ids Allocator, opts Options) *Classifier {
	return &Classifier{
		producer: producer,
		ids:      ids,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "classifier"),
	}
}

// Classify asks the producer about text and returns the accepted proposals.
// The error joins every rejection; accepted proposals are returned even when
// some were rejected.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	raw, err := c.producer.Propose(ctx, text)
	if err != nil {
		return Result{}, err
	}
	res := Result{Raw: raw}
	candidates, verr := Validate(raw, c.opts.MaxProposals)
	errs := []error{verr}

	allocated := make(map[int]uuid.UUID, len(candidates))
	for _, cand := range candidates {
		parent := cand.ParentID
		if cand.ParentRef != noParent {
			id, ok := allocated[cand.ParentRef]
			if !ok {
				errs = append(errs, &semantic.InvalidProposalError{
					Index:  cand.Index,
					Reason: fmt.Sprintf("parent proposal %d was rejected", cand.ParentRef),
				})
				continue
			}
			parent = id
		}
		id, err := c.ids.Allocate(cand.Kind, parent)
		if err != nil {
			errs = append(errs, &semantic.InvalidProposalError{Index: cand.Index, Reason: err.Error()})
			continue
		}
		unit := semantic.Unit{ID: id, Kind: cand.Kind, Label: cand.Label, ParentID: parent}
		if err := tagcodec.CheckEncodable(unit); err != nil {
			errs = append(errs, &semantic.InvalidProposalError{Index: cand.Index, Reason: err.Error()})
			continue
		}
		allocated[cand.Index] = id
		res.Proposals = append(res.Proposals, Proposal{
			Index:      cand.Index,
			Unit:       unit,
			Marker:     tagcodec.Encode(unit),
			Confidence: cand.Confidence,
			Source:     semantic.SourceAIClassifier,
		})
	}

	joined := errors.Join(errs...)
	res.Rejected = semantic.Details(joined)
	if joined != nil {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "classifier proposals rejected", "proposals_rejected",
			logging.Int("accepted", len(res.Proposals)),
			logging.Int("rejected", len(res.Rejected)),
			logging.String("first", res.Rejected[0]),
			logging.String(logging.FieldErrorHint, "rejected proposals are never committed; re-run or tag the text by hand"),
		)
	}
	c.logger.Debug("classification finished",
		logging.Int("accepted", len(res.Proposals)),
		logging.Int("rejected", len(res.Rejected)),
	)
	return res, joined
}
