package usecase

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

type noteRepoFake struct {
	mu     sync.Mutex
	notes  map[string]*domain.Note
	puts   []domain.Note
	getErr error
	putErr func(note *domain.Note) error
	delErr error
}

func newNoteRepoFake() *noteRepoFake {
	return &noteRepoFake{notes: make(map[string]*domain.Note)}
}

func (f *noteRepoFake) Get(_ context.Context, id string) (*domain.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	note, ok := f.notes[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNoteNotFound, "get note", fmt.Errorf("id=%s", id))
	}
	copyNote := *note
	return &copyNote, nil
}

func (f *noteRepoFake) Put(_ context.Context, note *domain.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		if err := f.putErr(note); err != nil {
			return err
		}
	}
	copyNote := *note
	f.notes[note.ID] = &copyNote
	f.puts = append(f.puts, copyNote)
	return nil
}

func (f *noteRepoFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	if _, ok := f.notes[id]; !ok {
		return domain.WrapError(domain.ErrNoteNotFound, "delete note", fmt.Errorf("id=%s", id))
	}
	delete(f.notes, id)
	return nil
}

func (f *noteRepoFake) List(_ context.Context, cursor string, limit int) (domain.NotePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.notes))
	for id := range f.notes {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	page := domain.NotePage{}
	for _, id := range ids {
		if len(page.Notes) == limit {
			page.NextCursor = page.Notes[len(page.Notes)-1].ID
			break
		}
		copyNote := *f.notes[id]
		page.Notes = append(page.Notes, &copyNote)
	}
	return page, nil
}

func (f *noteRepoFake) statuses() []domain.NoteStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.NoteStatus, 0, len(f.puts))
	for _, put := range f.puts {
		out = append(out, put.Status)
	}
	return out
}

type tagRepoFake struct {
	mu   sync.Mutex
	tags map[string]domain.Tag
}

func newTagRepoFake() *tagRepoFake {
	return &tagRepoFake{tags: make(map[string]domain.Tag)}
}

func (f *tagRepoFake) GetTag(_ context.Context, label string) (*domain.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag, ok := f.tags[label]
	if !ok {
		return nil, nil
	}
	return &tag, nil
}

func (f *tagRepoFake) GetTags(_ context.Context, labels []string) (map[string]domain.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.Tag, len(labels))
	for _, label := range labels {
		if tag, ok := f.tags[label]; ok {
			out[label] = tag
		}
	}
	return out, nil
}

func (f *tagRepoFake) CreateTag(_ context.Context, tag domain.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tags[tag.Label]; ok {
		return fmt.Errorf("tag %s exists", tag.Label)
	}
	f.tags[tag.Label] = tag
	return nil
}

func (f *tagRepoFake) IncrementTagUsage(_ context.Context, label string) (domain.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag, ok := f.tags[label]
	if !ok {
		return domain.Tag{}, fmt.Errorf("tag %s missing", label)
	}
	tag.UsageCount++
	f.tags[label] = tag
	return tag, nil
}

func (f *tagRepoFake) ListTags(context.Context) ([]domain.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Tag, 0, len(f.tags))
	for _, tag := range f.tags {
		out = append(out, tag)
	}
	return out, nil
}

type tagIndexFake struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
}

func newTagIndexFake() *tagIndexFake {
	return &tagIndexFake{vectors: make(map[string][]float32)}
}

func (f *tagIndexFake) UpsertTag(_ context.Context, label string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.vectors[label] = vector
	return nil
}

func (f *tagIndexFake) TagLabels(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, 0, len(f.vectors))
	for label := range f.vectors {
		out = append(out, label)
	}
	sort.Strings(out)
	return out, nil
}

func (f *tagIndexFake) QueryTags(_ context.Context, vector []float32, limit int) ([]domain.TagMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.TagMatch, 0, len(f.vectors))
	for label, v := range f.vectors {
		out = append(out, domain.TagMatch{Tag: domain.Tag{Label: label}, Score: cosine(vector, v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type vectorEntry struct {
	vector []float32
	meta   domain.VectorMetadata
}

type vectorIndexFake struct {
	mu        sync.Mutex
	entries   map[string]vectorEntry
	upsertErr error
	deleteErr error
	queryErr  error
	upserts   int
	queries   []int
}

func newVectorIndexFake() *vectorIndexFake {
	return &vectorIndexFake{entries: make(map[string]vectorEntry)}
}

func (f *vectorIndexFake) Upsert(_ context.Context, id string, vector []float32, meta domain.VectorMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	f.entries[id] = vectorEntry{vector: vector, meta: meta}
	return nil
}

func (f *vectorIndexFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.entries, id)
	return nil
}

func (f *vectorIndexFake) Query(_ context.Context, vector []float32, topK int, filter domain.SearchFilter) ([]domain.VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, topK)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]domain.VectorHit, 0, len(f.entries))
	for id, entry := range f.entries {
		if !hasAnyTag(entry.meta.Tags, filter.Tags) {
			continue
		}
		out = append(out, domain.VectorHit{
			ID:        id,
			Score:     cosine(vector, entry.vector),
			Tags:      entry.meta.Tags,
			UpdatedAt: entry.meta.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *vectorIndexFake) ListIDs(_ context.Context, cursor string, limit int) ([]string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.entries))
	for id := range f.entries {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		return ids[:limit], ids[limit-1], nil
	}
	return ids, "", nil
}

func (f *vectorIndexFake) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	return ok
}

// bagOfWordsEmbedder hashes content words into a fixed number of dimensions.
type bagOfWordsEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

var testStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "of": {}, "what": {}, "to": {}, "and": {}, "in": {}, "on": {},
}

const bagDims = 1024

func bagOfWords(text string) []float32 {
	vec := make([]float32, bagDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		if _, stop := testStopwords[word]; stop {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%bagDims]++
	}
	return vec
}

func (e *bagOfWordsEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, bagOfWords(text))
	}
	return out, nil
}

func (e *bagOfWordsEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// staticEmbedder returns fixed vectors per text.
type staticEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (e *staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, ok := e.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", text)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *staticEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// llmFake answers prompts through a handler and counts calls per method.
type llmFake struct {
	mu        sync.Mutex
	textCalls int
	jsonCalls int
	prompts   []string
	text      func(prompt string, call int) (string, error)
	json      func(prompt string, call int) (string, error)
}

func (f *llmFake) GenerateText(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.textCalls++
	call := f.textCalls
	f.prompts = append(f.prompts, prompt)
	handler := f.text
	f.mu.Unlock()
	if handler == nil {
		return "", fmt.Errorf("unexpected text call")
	}
	return handler(prompt, call)
}

func (f *llmFake) GenerateJSON(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.jsonCalls++
	call := f.jsonCalls
	f.prompts = append(f.prompts, prompt)
	handler := f.json
	f.mu.Unlock()
	if handler == nil {
		return "", fmt.Errorf("unexpected json call")
	}
	return handler(prompt, call)
}

type chunkerFake struct {
	chunks []string
}

func (f *chunkerFake) Split(text string) []string {
	if f.chunks != nil {
		return f.chunks
	}
	return []string{text}
}

type reconcileQueueFake struct {
	mu        sync.Mutex
	published []string
}

func (f *reconcileQueueFake) PublishReconcile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, id)
	return nil
}

func (f *reconcileQueueFake) SubscribeReconcile(context.Context, func(context.Context, string) error) error {
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
