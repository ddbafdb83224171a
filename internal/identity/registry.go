package identity

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/logging"
	"tagsync/internal/semantic"
)

// DefaultPartitions is used when Options.Partitions is not positive.
const DefaultPartitions = 64

// Entry is the registry's view of one id.
type Entry struct {
	ID         uuid.UUID
	Kind       semantic.Kind
	ParentID   uuid.UUID
	Root       uuid.UUID
	IngestedAt time.Time
	// Committed is false for ids that were allocated but never registered.
	Committed bool
}

// SeedEntry is a committed unit loaded from the canonical store.
type SeedEntry struct {
	Unit       semantic.Unit
	IngestedAt time.Time
}

// Options configure a Registry.
type Options struct {
	Partitions int
	TieBreak   TieBreak
	Logger     *slog.Logger
	Now        func() time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

// Registry is the partitioned identity store.
type Registry struct {
	shards   []*shard
	roots    sync.Map // uuid.UUID -> uuid.UUID; rewritten only by reroot
	tombMu   sync.RWMutex
	tombs    map[uuid.UUID]uuid.UUID
	tieBreak TieBreak
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs an empty registry.
func New(opts Options) *Registry {
	n := opts.Partitions
	if n <= 0 {
		n = DefaultPartitions
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entries: make(map[uuid.UUID]*Entry)}
	}
	tieBreak := opts.TieBreak
	if tieBreak == "" {
		tieBreak = TieBreakLexicographic
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		shards:   shards,
		tombs:    make(map[uuid.UUID]uuid.UUID),
		tieBreak: tieBreak,
		logger:   logging.NewComponentLogger(opts.Logger, "identity"),
		now:      now,
	}
}

// Partitions reports the shard count.
func (r *Registry) Partitions() int { return len(r.shards) }

func (r *Registry) shardIndex(root uuid.UUID) int {
	h := fnv.New64a()
	_, _ = h.Write(root[:])
	return int(h.Sum64() % uint64(len(r.shards)))
}

func (r *Registry) rootOf(id uuid.UUID) (uuid.UUID, bool) {
	v, ok := r.roots.Load(id)
	if !ok {
		return uuid.Nil, false
	}
	return v.(uuid.UUID), true
}

// Allocate reserves a fresh id for a unit of the given kind under parent.
// The id is never handed out again, even if it is later retired.
func (r *Registry) Allocate(kind semantic.Kind, parent uuid.UUID) (uuid.UUID, error) {
	if !kind.Valid() {
		return uuid.Nil, fmt.Errorf("allocate: invalid kind %s", kind)
	}
	if parent == uuid.Nil {
		for {
			id := uuid.New()
			if _, loaded := r.roots.LoadOrStore(id, id); loaded {
				continue
			}
			sh := r.shards[r.shardIndex(id)]
			sh.mu.Lock()
			sh.entries[id] = &Entry{ID: id, Kind: kind, Root: id, IngestedAt: r.now()}
			sh.mu.Unlock()
			return id, nil
		}
	}

	parent = r.Resolve(parent)
	root, ok := r.rootOf(parent)
	if !ok {
		return uuid.Nil, &semantic.InvalidParentError{ParentID: parent, Kind: kind, Reason: "parent is not registered"}
	}
	sh := r.shards[r.shardIndex(root)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	p, ok := sh.entries[parent]
	if !ok {
		return uuid.Nil, &semantic.InvalidParentError{ParentID: parent, Kind: kind, Reason: "parent is not registered"}
	}
	if !p.Kind.CanParent(kind) {
		return uuid.Nil, &semantic.InvalidParentError{
			ParentID: parent,
			Kind:     kind,
			Reason:   fmt.Sprintf("%s cannot be the parent of %s", p.Kind, kind),
		}
	}
	for {
		id := uuid.New()
		if _, loaded := r.roots.LoadOrStore(id, root); loaded {
			continue
		}
		sh.entries[id] = &Entry{ID: id, Kind: kind, ParentID: parent, Root: root, IngestedAt: r.now()}
		return id, nil
	}
}

// Lookup returns the entry for id without resolving tombstones.
func (r *Registry) Lookup(id uuid.UUID) (Entry, bool) {
	root, ok := r.rootOf(id)
	if !ok {
		return Entry{}, false
	}
	sh := r.shards[r.shardIndex(root)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Resolve follows tombstone mappings to the canonical id. Unknown ids resolve
// to themselves.
func (r *Registry) Resolve(id uuid.UUID) uuid.UUID {
	r.tombMu.RLock()
	defer r.tombMu.RUnlock()
	seen := 0
	for {
		next, ok := r.tombs[id]
		if !ok || seen > len(r.tombs) {
			return id
		}
		id = next
		seen++
	}
}

// Retired reports whether id has been merged into another id.
func (r *Registry) Retired(id uuid.UUID) bool {
	r.tombMu.RLock()
	defer r.tombMu.RUnlock()
	_, ok := r.tombs[id]
	return ok
}

// Validate checks a single unit against the registry.
func (r *Registry) Validate(u semantic.Unit) error {
	return r.ValidateSet([]semantic.Unit{u})
}

// ValidateSet checks the units of one document together, so a unit may name
// a parent that appears elsewhere in the same set. All violations are
// returned joined; a nil result means every unit is valid.
func (r *Registry) ValidateSet(units []semantic.Unit) error {
	return r.ValidateRevision(units, nil)
}

// ValidateRevision is ValidateSet for a document whose last snapshot already
// holds the ids in tracked. A tracked id may change kind; drift review
// decides whether that change commits.
func (r *Registry) ValidateRevision(units []semantic.Unit, tracked map[uuid.UUID]struct{}) error {
	if len(units) == 0 {
		return nil
	}
	v := validation{r: r, batch: make(map[uuid.UUID]semantic.Unit, len(units)), tracked: tracked}
	var errs []error
	for _, u := range units {
		if prev, ok := v.batch[u.ID]; ok && (prev.Kind != u.Kind || prev.ParentID != u.ParentID) {
			errs = append(errs, &semantic.CollisionError{ID: u.ID, Reason: "id appears twice with different kind or parent"})
			continue
		}
		v.batch[u.ID] = u
	}

	indices := r.involvedShards(units, v.batch)
	v.held = make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		v.held[idx] = struct{}{}
	}
	unlock := r.lockShards(indices)
	defer unlock()

	for _, u := range units {
		if err := v.check(u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// validation reads registry entries only from the shards it holds.
type validation struct {
	r       *Registry
	batch   map[uuid.UUID]semantic.Unit
	held    map[int]struct{}
	tracked map[uuid.UUID]struct{}
}

func (v *validation) check(u semantic.Unit) error {
	r := v.r
	switch {
	case u.ID == uuid.Nil:
		return &semantic.CollisionError{ID: u.ID, Reason: "nil id"}
	case !u.Kind.Valid():
		return &semantic.CollisionError{ID: u.ID, Reason: "invalid kind"}
	}
	if r.Retired(u.ID) {
		return &semantic.CollisionError{ID: u.ID, Reason: fmt.Sprintf("id was retired in favour of %s", r.Resolve(u.ID))}
	}
	if existing, ok := v.lookup(u.ID); ok && existing.Kind != u.Kind && !v.isTracked(u.ID) {
		return &semantic.CollisionError{
			ID:     u.ID,
			Reason: fmt.Sprintf("id is registered as %s, document declares %s", existing.Kind, u.Kind),
		}
	}
	if !u.HasParent() {
		return nil
	}
	if u.ParentID == u.ID {
		return &semantic.InvalidParentError{ID: u.ID, ParentID: u.ParentID, Kind: u.Kind, Reason: "unit cannot be its own parent"}
	}
	if r.Retired(u.ParentID) {
		return &semantic.InvalidParentError{
			ID: u.ID, ParentID: u.ParentID, Kind: u.Kind,
			Reason: fmt.Sprintf("parent was retired in favour of %s", r.Resolve(u.ParentID)),
		}
	}
	parentKind, ok := v.kindOf(u.ParentID)
	if !ok {
		return &semantic.InvalidParentError{ID: u.ID, ParentID: u.ParentID, Kind: u.Kind, Reason: "parent does not exist"}
	}
	if !parentKind.CanParent(u.Kind) {
		return &semantic.InvalidParentError{
			ID: u.ID, ParentID: u.ParentID, Kind: u.Kind,
			Reason: fmt.Sprintf("%s cannot be the parent of %s", parentKind, u.Kind),
		}
	}
	if v.formsCycle(u) {
		return &semantic.InvalidParentError{ID: u.ID, ParentID: u.ParentID, Kind: u.Kind, Reason: "parent chain forms a cycle"}
	}
	return nil
}

func (v *validation) isTracked(id uuid.UUID) bool {
	_, ok := v.tracked[id]
	return ok
}

func (v *validation) lookup(id uuid.UUID) (*Entry, bool) {
	root, ok := v.r.rootOf(id)
	if !ok {
		return nil, false
	}
	idx := v.r.shardIndex(root)
	if _, held := v.held[idx]; !held {
		return nil, false
	}
	e, ok := v.r.shards[idx].entries[id]
	return e, ok
}

// kindOf prefers the in-document declaration over the registered one.
func (v *validation) kindOf(id uuid.UUID) (semantic.Kind, bool) {
	if u, ok := v.batch[id]; ok {
		return u.Kind, true
	}
	if e, ok := v.lookup(id); ok {
		return e.Kind, true
	}
	return semantic.KindUnknown, false
}

func (v *validation) parentOf(id uuid.UUID) (uuid.UUID, bool) {
	if u, ok := v.batch[id]; ok {
		return u.ParentID, true
	}
	if e, ok := v.lookup(id); ok {
		return e.ParentID, true
	}
	return uuid.Nil, false
}

// formsCycle walks the chain upward through the document and the held
// shards. Ancestors outside the held shards end the walk; the strict kind
// ranking already rules out cycles through them.
func (v *validation) formsCycle(u semantic.Unit) bool {
	seen := map[uuid.UUID]struct{}{u.ID: {}}
	cur := u.ParentID
	for cur != uuid.Nil {
		if _, ok := seen[cur]; ok {
			return true
		}
		seen[cur] = struct{}{}
		next, ok := v.parentOf(cur)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

// involvedShards returns the shards touched by validating units: the shard of
// each unit's own lineage and of every parent it names.
func (r *Registry) involvedShards(units []semantic.Unit, batch map[uuid.UUID]semantic.Unit) []int {
	set := make(map[int]struct{})
	for _, u := range units {
		set[r.shardIndex(r.lineageRoot(u.ID, batch))] = struct{}{}
		if u.HasParent() {
			set[r.shardIndex(r.lineageRoot(u.ParentID, batch))] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// lineageRoot returns the stored root for known ids, otherwise the top-most
// ancestor reachable through the document.
func (r *Registry) lineageRoot(id uuid.UUID, batch map[uuid.UUID]semantic.Unit) uuid.UUID {
	for range len(batch) + 1 {
		if root, ok := r.rootOf(id); ok {
			return root
		}
		u, ok := batch[id]
		if !ok || !u.HasParent() {
			return id
		}
		id = u.ParentID
	}
	return id
}

// lockShards acquires shards in ascending index order.
func (r *Registry) lockShards(indices []int) func() {
	for _, idx := range indices {
		r.shards[idx].mu.Lock()
	}
	return func() {
		for i := len(indices) - 1; i >= 0; i-- {
			r.shards[indices[i]].mu.Unlock()
		}
	}
}

// Register records committed units. Parents are registered before children
// regardless of input order.
func (r *Registry) Register(units []semantic.Unit, ingestedAt time.Time) {
	if len(units) == 0 {
		return
	}
	ordered := slices.Clone(units)
	slices.SortStableFunc(ordered, func(a, b semantic.Unit) int {
		return a.Kind.Rank() - b.Kind.Rank()
	})
	batch := make(map[uuid.UUID]semantic.Unit, len(ordered))
	for _, u := range ordered {
		batch[u.ID] = u
	}
	for _, u := range ordered {
		root, known := r.rootOf(u.ID)
		if want := r.expectedRoot(u, batch); !known {
			actual, _ := r.roots.LoadOrStore(u.ID, want)
			root = actual.(uuid.UUID)
		} else if want != root {
			r.reroot(u.ID, want)
			root = want
		}

		sh := r.shards[r.shardIndex(root)]
		sh.mu.Lock()
		e, ok := sh.entries[u.ID]
		if !ok {
			e = &Entry{ID: u.ID, Root: root, IngestedAt: ingestedAt}
			sh.entries[u.ID] = e
		}
		e.Kind = u.Kind
		e.ParentID = u.ParentID
		if !ingestedAt.IsZero() && (!e.Committed || ingestedAt.Before(e.IngestedAt)) {
			e.IngestedAt = ingestedAt
		}
		e.Committed = true
		sh.mu.Unlock()
	}
}

// expectedRoot is the lineage root u has once registered: its own id, or the
// root its parent resolves to.
func (r *Registry) expectedRoot(u semantic.Unit, batch map[uuid.UUID]semantic.Unit) uuid.UUID {
	if !u.HasParent() {
		return u.ID
	}
	return r.lineageRoot(u.ParentID, batch)
}

// reroot moves id and every registered descendant to the shard of root. It
// holds every shard while it runs.
func (r *Registry) reroot(id, root uuid.UUID) {
	all := make([]int, len(r.shards))
	for i := range all {
		all[i] = i
	}
	unlock := r.lockShards(all)
	defer unlock()

	children := make(map[uuid.UUID][]uuid.UUID)
	for _, sh := range r.shards {
		for child, e := range sh.entries {
			if e.ParentID != uuid.Nil {
				children[e.ParentID] = append(children[e.ParentID], child)
			}
		}
	}
	dst := r.shards[r.shardIndex(root)]
	queue := []uuid.UUID{id}
	seen := make(map[uuid.UUID]struct{})
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		queue = append(queue, children[cur]...)

		old, ok := r.rootOf(cur)
		if !ok {
			continue
		}
		src := r.shards[r.shardIndex(old)]
		if e, ok := src.entries[cur]; ok {
			delete(src.entries, cur)
			e.Root = root
			dst.entries[cur] = e
		}
		r.roots.Store(cur, root)
	}
	r.logger.Debug("lineage rerooted",
		logging.String("unit_id", id.String()),
		logging.String("root", root.String()),
		logging.Int("moved", len(seen)),
	)
}

// Seed loads committed units and tombstones from the canonical store.
func (r *Registry) Seed(entries []SeedEntry, tombstones map[uuid.UUID]uuid.UUID) {
	for _, entry := range entries {
		r.Register([]semantic.Unit{entry.Unit}, entry.IngestedAt)
	}
	r.tombMu.Lock()
	for retired, canonical := range tombstones {
		r.tombs[retired] = canonical
		if _, ok := r.rootOf(retired); !ok {
			r.roots.Store(retired, retired)
		}
	}
	r.tombMu.Unlock()
	r.logger.Debug("identity registry seeded",
		logging.Int("units", len(entries)),
		logging.Int("tombstones", len(tombstones)),
	)
}

// Stats reports registry occupancy.
func (r *Registry) Stats() (units, tombstones int) {
	for _, sh := range r.shards {
		sh.mu.Lock()
		units += len(sh.entries)
		sh.mu.Unlock()
	}
	r.tombMu.RLock()
	tombstones = len(r.tombs)
	r.tombMu.RUnlock()
	return units, tombstones
}
