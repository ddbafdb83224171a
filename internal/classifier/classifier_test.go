package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"tagsync/internal/identity"
	"tagsync/internal/semantic"
	"tagsync/internal/tagcodec"
)

type staticProducer struct {
	payload string
	err     error
}

func (p staticProducer) Propose(context.Context, string) (string, error) { return p.payload, p.err }

func TestClassifyAllocatesIdsAndRendersMarkers(t *testing.T) {
	registry := identity.New(identity.Options{})
	payload := `{"proposals":[
		{"kind":"PARAGRAPH","label":"Boiling point","confidence":0.7},
		{"kind":"SENTENCE","label":"Water boils at 100C","parent":0},
		{"kind":"PARAGRAPH","label":"bad child","parent":1}
	]}`
	c := New(staticProducer{payload: payload}, registry, Options{})

	res, err := c.Classify(context.Background(), "Water boils at 100C at sea level.")
	if len(res.Proposals) != 2 {
		t.Fatalf("expected 2 accepted proposals, got %+v", res.Proposals)
	}
	var invalid *semantic.InvalidProposalError
	if !errors.As(err, &invalid) || invalid.Index != 2 {
		t.Fatalf("paragraph under a sentence must be rejected, got %v", err)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("rejected = %v", res.Rejected)
	}

	para, sentence := res.Proposals[0], res.Proposals[1]
	if sentence.Unit.ParentID != para.Unit.ID {
		t.Fatalf("sentence parent = %s, want %s", sentence.Unit.ParentID, para.Unit.ID)
	}
	if para.Source != semantic.SourceAIClassifier || para.Confidence != 0.7 {
		t.Fatalf("paragraph proposal = %+v", para)
	}
	decoded, malformed := tagcodec.Decode(sentence.Marker)
	if len(malformed) != 0 || len(decoded) != 1 || decoded[0].Unit != sentence.Unit {
		t.Fatalf("marker does not round-trip: %v %v", decoded, malformed)
	}
}

func TestClassifyUnknownParentID(t *testing.T) {
	registry := identity.New(identity.Options{})
	payload := `[{"kind":"CLAIM","label":"orphan","parent":"` + uuid.NewString() + `"}]`
	res, err := New(staticProducer{payload: payload}, registry, Options{}).Classify(context.Background(), "x")
	if len(res.Proposals) != 0 {
		t.Fatalf("expected no proposals, got %+v", res.Proposals)
	}
	if semantic.ErrorKindOf(err) != semantic.KindInvalidProposal {
		t.Fatalf("expected invalid proposal, got %v", err)
	}
}

func TestClassifyProducerError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(staticProducer{err: boom}, identity.New(identity.Options{}), Options{}).Classify(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Fatalf("expected producer error, got %v", err)
	}
}
