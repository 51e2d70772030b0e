package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"conversion-relay/internal/domain"
)

var fixedNow = time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// fakeStore is an in-memory ConversionStore and RetryStore. Every put is
// recorded in order so tests can assert the write-through sequence.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]domain.ConversionDocument
	puts     []domain.ConversionDocument
	putErr   error
	failPut  int // when > 0, the n-th put (1-based) fails with putErr
	listErr  error
	lenient  bool // ListRetryable returns every document, ignoring the filter
	// listed, when set, is returned verbatim by ListRetryable.
	listed   []domain.ConversionDocument
	getErrs  map[string]error
	listArgs []int
}

func newFakeStore(docs ...domain.ConversionDocument) *fakeStore {
	s := &fakeStore{docs: map[string]domain.ConversionDocument{}}
	for _, d := range docs {
		s.docs[d.Detail.GCLID] = d
	}
	return s
}

func (s *fakeStore) PutConversion(_ context.Context, doc domain.ConversionDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, doc)
	if s.putErr != nil && (s.failPut == 0 || s.failPut == len(s.puts)) {
		return s.putErr
	}
	s.docs[doc.Detail.GCLID] = doc
	return nil
}

func (s *fakeStore) ListRetryable(_ context.Context, maxAttempts int) ([]domain.ConversionDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listArgs = append(s.listArgs, maxAttempts)
	if s.listErr != nil {
		return nil, s.listErr
	}
	if s.listed != nil {
		return s.listed, nil
	}
	var out []domain.ConversionDocument
	for _, d := range s.docs {
		if s.lenient || (d.Status.Current == domain.StatusError && d.Status.Attempts < maxAttempts) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) GetConversion(_ context.Context, gclid string) (domain.ConversionDocument, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErrs[gclid]; err != nil {
		return domain.ConversionDocument{}, false, err
	}
	d, ok := s.docs[gclid]
	return d, ok, nil
}

func (s *fakeStore) doc(gclid string) domain.ConversionDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[gclid]
}

func (s *fakeStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

type fakeDirectory struct {
	mu      sync.Mutex
	actions map[string]string
	err     error
	calls   int
}

func (d *fakeDirectory) ConversionAction(_ context.Context, campaignID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	name, ok := d.actions[campaignID]
	if !ok {
		return "", fmt.Errorf("campaign %q: %w", campaignID, domain.ErrCampaignNotFound)
	}
	return name, nil
}

// fakeUploader answers per click id: a rejection message, a transport error,
// or success when neither is configured.
type fakeUploader struct {
	mu        sync.Mutex
	rejects   map[string]string
	failures  map[string]error
	empty     bool
	calls     int
	submitted []domain.ClickConversion
	lastOpts  domain.UploadOptions
}

func (u *fakeUploader) UploadClickConversions(_ context.Context, conversions []domain.ClickConversion, opts domain.UploadOptions) ([]domain.UploadResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.submitted = append(u.submitted, conversions...)
	u.lastOpts = opts
	if u.empty {
		return nil, nil
	}

	results := make([]domain.UploadResult, 0, len(conversions))
	for _, c := range conversions {
		if err, ok := u.failures[c.GCLID]; ok {
			return nil, err
		}
		res := domain.UploadResult{GCLID: c.GCLID, ConversionAction: c.ConversionAction}
		if msg, ok := u.rejects[c.GCLID]; ok {
			res.PartialFailureError = &domain.PartialFailure{Code: 3, Message: msg}
		}
		results = append(results, res)
	}
	return results, nil
}

func (u *fakeUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

var errTransport = errors.New("dial tcp: connection refused")

func newTestRecorder(store *fakeStore, dir *fakeDirectory, up *fakeUploader, opts ...RecorderOption) *Recorder {
	opts = append([]RecorderOption{WithClock(fixedClock)}, opts...)
	r, err := NewRecorder(store, dir, up, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func defaultDirectory() *fakeDirectory {
	return &fakeDirectory{actions: map[string]string{"42": "customers/1/conversionActions/2"}}
}

func storedDoc(gclid string, current domain.StatusCode, attempts int) domain.ConversionDocument {
	return domain.ConversionDocument{
		Detail: domain.Detail{GCLID: gclid, ConversionDateTime: "2026-02-20 08:00:00+00:00"},
		Status: domain.Status{Current: current, Attempts: attempts},
		Meta:   domain.Meta{CampaignID: "42", Query: map[string]string{"cid": "42", "gclid": gclid}},
	}
}
