package usecase

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"conversion-relay/internal/domain"
)

func newTestScanner(t *testing.T, store *fakeStore, up *fakeUploader) *RetryScanner {
	t.Helper()
	s, err := NewRetryScanner(store, newTestRecorder(store, defaultDirectory(), up), domain.MaxAttempts, 4, nil)
	require.NoError(t, err)
	return s
}

func submittedGCLIDs(up *fakeUploader) []string {
	up.mu.Lock()
	defer up.mu.Unlock()
	out := make([]string, 0, len(up.submitted))
	for _, c := range up.submitted {
		out = append(out, c.GCLID)
	}
	sort.Strings(out)
	return out
}

func TestScan_RetriesErroredRecord(t *testing.T) {
	store := newFakeStore(storedDoc("xyz", domain.StatusError, 3))
	up := &fakeUploader{}
	s := newTestScanner(t, store, up)

	report, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, ScanReport{Attempted: 1, Succeeded: 1}, report)

	stored := store.doc("xyz")
	require.Equal(t, 4, stored.Status.Attempts)
	require.Equal(t, domain.StatusSuccess, stored.Status.Current)
	require.Equal(t, "customers/1/conversionActions/2", stored.Detail.ConversionAction)
}

func TestScan_SelectsOnlyEligibleRecords(t *testing.T) {
	for _, lenient := range []bool{false, true} {
		store := newFakeStore(
			storedDoc("err-0", domain.StatusError, 0),
			storedDoc("err-4", domain.StatusError, 4),
			storedDoc("err-5", domain.StatusError, 5),
			storedDoc("err-9", domain.StatusError, 9),
			storedDoc("ok-1", domain.StatusSuccess, 1),
			storedDoc("new-0", domain.StatusNew, 0),
		)
		store.lenient = lenient
		up := &fakeUploader{}
		s := newTestScanner(t, store, up)

		report, err := s.Scan(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, report.Attempted, "lenient=%v", lenient)
		require.Equal(t, []string{"err-0", "err-4"}, submittedGCLIDs(up), "lenient=%v", lenient)
		require.Equal(t, 5, store.doc("err-5").Status.Attempts)
		require.Equal(t, []int{domain.MaxAttempts}, store.listArgs)
	}
}

func TestScan_FailuresAreIndependent(t *testing.T) {
	store := newFakeStore(
		storedDoc("a", domain.StatusError, 1),
		storedDoc("b", domain.StatusError, 1),
		storedDoc("c", domain.StatusError, 1),
	)
	up := &fakeUploader{
		failures: map[string]error{"a": errTransport},
		rejects:  map[string]string{"b": "still invalid"},
	}
	s := newTestScanner(t, store, up)

	report, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, ScanReport{Attempted: 3, Succeeded: 1, Failed: 2}, report)

	require.Equal(t, 2, store.doc("a").Status.Attempts)
	require.Equal(t, domain.StatusError, store.doc("a").Status.Current)
	require.Equal(t, "still invalid", store.doc("b").Status.Message)
	require.Equal(t, domain.StatusSuccess, store.doc("c").Status.Current)
}

func TestScan_QueryErrorFiresNothing(t *testing.T) {
	store := newFakeStore(storedDoc("a", domain.StatusError, 1))
	store.listErr = errors.New("ResourceNotFoundException")
	up := &fakeUploader{}
	s := newTestScanner(t, store, up)

	report, err := s.Scan(context.Background())
	require.Error(t, err)
	var ucErr *Error
	require.True(t, errors.As(err, &ucErr))
	require.Equal(t, "retry_query_error", ucErr.Reason)
	require.Equal(t, ScanReport{}, report)
	require.Zero(t, up.callCount())
	require.Zero(t, store.putCount())
}

func TestScan_NoEligibleRecords(t *testing.T) {
	s := newTestScanner(t, newFakeStore(), &fakeUploader{})
	report, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Attempted)
}

func TestScan_ManyRecordsBoundedConcurrency(t *testing.T) {
	var docs []domain.ConversionDocument
	for i := 0; i < 50; i++ {
		docs = append(docs, storedDoc(string(rune('A'+i)), domain.StatusError, 1))
	}
	store := newFakeStore(docs...)
	up := &fakeUploader{}
	s := newTestScanner(t, store, up)

	report, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 50, report.Attempted)
	require.Equal(t, 50, report.Succeeded)
	require.Equal(t, 50, up.callCount())
}

func TestNewRetryScanner_Defaults(t *testing.T) {
	store := newFakeStore()
	r := newTestRecorder(store, defaultDirectory(), &fakeUploader{})

	s, err := NewRetryScanner(store, r, 0, 0, nil)
	require.NoError(t, err)
	require.Equal(t, domain.MaxAttempts, s.maxAttempts)
	require.Equal(t, defaultRetryConcurrency, s.concurrency)
	require.NotNil(t, s.logger)

	_, err = NewRetryScanner(nil, r, 5, 1, nil)
	require.Error(t, err)
	_, err = NewRetryScanner(store, nil, 5, 1, nil)
	require.Error(t, err)
}

func TestScan_ReloadsBeforeFiring(t *testing.T) {
	store := newFakeStore(
		storedDoc("fixed", domain.StatusSuccess, 2),
		storedDoc("exhausted", domain.StatusError, 5),
		storedDoc("live", domain.StatusError, 1),
		storedDoc("unreadable", domain.StatusError, 1),
	)
	// The scan page predates a concurrent success, a concurrent failed
	// attempt and a deletion.
	store.listed = []domain.ConversionDocument{
		storedDoc("fixed", domain.StatusError, 1),
		storedDoc("exhausted", domain.StatusError, 4),
		storedDoc("deleted", domain.StatusError, 1),
		storedDoc("live", domain.StatusError, 1),
		storedDoc("unreadable", domain.StatusError, 1),
	}
	store.getErrs = map[string]error{"unreadable": errors.New("ProvisionedThroughputExceededException")}
	up := &fakeUploader{}
	s := newTestScanner(t, store, up)

	report, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, ScanReport{Attempted: 1, Succeeded: 1, Skipped: 4}, report)
	require.Equal(t, []string{"live"}, submittedGCLIDs(up))

	require.Equal(t, domain.StatusSuccess, store.doc("fixed").Status.Current)
	require.Equal(t, 2, store.doc("fixed").Status.Attempts)
	require.Equal(t, 5, store.doc("exhausted").Status.Attempts)
	require.Equal(t, 1, store.doc("unreadable").Status.Attempts)
	_, found, _ := store.GetConversion(context.Background(), "deleted")
	require.False(t, found)
}
