package archive

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/baderkha/access-transfer/pkg/migrate"
	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/errclass"
	"github.com/baderkha/access-transfer/pkg/migrate/progress"
	"github.com/baderkha/access-transfer/pkg/migrate/state"
)

var started = time.Date(2026, 3, 14, 22, 5, 0, 0, time.UTC)

func snapshot() migrate.Snapshot {
	return migrate.Snapshot{
		ID:        "5f0c6f4e-7d1b-4a57-9a43-1f0b8b0f2a11",
		Status:    progress.CompletedWithErrors,
		StartedAt: &started,
		Items: []state.Item{
			{Name: "Customers", Kind: catalog.KindTable, Status: state.Completed, ProgressPercent: 100, RecordsTransferred: 1250, TotalRecords: 1250, Attempt: 1},
			{Name: "Orders", Kind: catalog.KindTable, Status: state.Failed, ProgressPercent: 40, RecordsTransferred: 400, TotalRecords: 1000, Attempt: 2,
				Error: errclass.New(errclass.ConnectionLost, errors.New("connection reset by peer"))},
		},
	}
}

func TestKey(t *testing.T) {
	snap := snapshot()
	require.Equal(t, "files/date=2026-03-14/run_id="+snap.ID+"/snapshot.json", Key("files", snap, time.Now()))

	snap.StartedAt = nil
	now := time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)
	require.Equal(t, "date=2026-10-15/run_id="+snap.ID+"/snapshot.json", Key("", snap, now))
}

func TestFile_ArchiveAndLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	f := NewFile(fs, "/tmp/runs")
	snap := snapshot()

	require.NoError(t, f.Archive(context.Background(), snap))
	p := f.Path(snap)
	require.Equal(t, "/tmp/runs/date=2026-03-14/run_id="+snap.ID+"/snapshot.json", p)

	doc, err := Load(fs, p)
	require.NoError(t, err)
	require.Len(t, doc, 2)
	require.Equal(t, state.Completed, doc["Customers"].Status)
	require.EqualValues(t, 1250, doc["Customers"].RecordsTransferred)
	require.Equal(t, "Orders", doc["Orders"].Name)
	require.Equal(t, errclass.ConnectionLost, doc["Orders"].Error.Class)
	require.Equal(t, 2, doc["Orders"].Attempt)
}

func TestLoad_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "/missing.json")
	require.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/bad.json", []byte("[1,2"), 0644))
	_, err = Load(fs, "/bad.json")
	require.ErrorContains(t, err, "decoding snapshot")
}

type fakeS3 struct {
	s3iface.S3API

	mu    sync.Mutex
	fails int
	calls int
	puts  map[string][]byte
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("RequestTimeout")
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestS3_Archive(t *testing.T) {
	client := &fakeS3{fails: 2}
	a := NewS3(client, "migrations", "files")
	a.BackOff = zeroBackOff
	snap := snapshot()

	require.NoError(t, a.Archive(context.Background(), snap))
	require.Equal(t, 3, client.calls)
	body, ok := client.puts["migrations/files/date=2026-03-14/run_id="+snap.ID+"/snapshot.json"]
	require.True(t, ok)
	require.Contains(t, string(body), `"Customers"`)
}

func TestS3_GivesUp(t *testing.T) {
	client := &fakeS3{fails: 100}
	a := NewS3(client, "migrations", "files")
	a.BackOff = zeroBackOff
	a.MaxRetry = 2

	err := a.Archive(context.Background(), snapshot())
	require.ErrorContains(t, err, "3 times")
	require.Equal(t, 3, client.calls)
}

func TestMulti(t *testing.T) {
	fs := afero.NewMemMapFs()
	file := NewFile(fs, "/runs")
	broken := &S3{Client: &fakeS3{fails: 100}, Bucket: "b", MaxRetry: 0, BackOff: zeroBackOff, now: time.Now}
	snap := snapshot()

	err := Multi{broken, file}.Archive(context.Background(), snap)
	require.ErrorContains(t, err, "1 times")

	ok, err := afero.Exists(fs, file.Path(snap))
	require.NoError(t, err)
	require.True(t, ok, "the file copy is written even though s3 failed")
}
