package split

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chenyenchung/scbamsplit/bamio"
	"github.com/chenyenchung/scbamsplit/htstestutil"
	"github.com/chenyenchung/scbamsplit/sortkey"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
)

// newTestPipeline builds a pipeline over reads with a fresh temp dir.
func newTestPipeline(t *testing.T, reads []htstestutil.Read, mutate func(*Config)) (*pipeline, func()) {
	t.Helper()
	dir := t.TempDir()
	in := writeInput(t, dir, reads)
	cfg := &Config{Input: in, Meta: "unused", Prefix: dir, Dedup: true}
	if mutate != nil {
		mutate(cfg)
	}
	assert.NoError(t, cfg.Normalize())
	r, err := bamio.Open(in)
	assert.NoError(t, err)
	tmpdir, err := createTempDir(cfg.Prefix)
	assert.NoError(t, err)
	return newPipeline(cfg, r, tmpdir), func() { r.Close() }
}

func runKeys(t *testing.T, recs []*sam.Record) []string {
	t.Helper()
	keys := make([]string, len(recs))
	for i, rec := range recs {
		key, ok := sortkey.FromRecord(rec)
		assert.True(t, ok)
		keys[i] = key
	}
	return keys
}

func assertNonDecreasing(t *testing.T, keys []string) {
	t.Helper()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("keys out of order at %d: %q > %q", i, keys[i-1], keys[i])
		}
	}
}

func TestSortStageWritesSortedRuns(t *testing.T) {
	reads := []htstestutil.Read{
		{Name: "r1", MapQ: 30, CB: "TTT", UB: "A"},
		{Name: "r2", MapQ: 30, CB: "AAA", UB: "C"},
		{Name: "r3", MapQ: 30, CB: "GGG", UB: "G"},
		{Name: "r4", MapQ: 30, CB: "CCC", UB: "T"},
		{Name: "r5", MapQ: 30, CB: "AAA", UB: "A"},
	}
	p, done := newTestPipeline(t, reads, func(c *Config) { c.ChunkSize = 2 })
	defer done()

	assert.NoError(t, p.sortStage())
	names, err := listRuns(p.tmpdir)
	assert.NoError(t, err)
	assert.EQ(t, names, []string{"chunk00001.bam", "chunk00002.bam", "chunk00003.bam"})

	total := 0
	for _, name := range names {
		recs := htstestutil.ReadBAM(t, filepath.Join(p.tmpdir, name))
		assertNonDecreasing(t, runKeys(t, recs))
		total += len(recs)
	}
	assert.EQ(t, total, len(reads))
}

func TestSortStageSkipsFilteredReads(t *testing.T) {
	reads := []htstestutil.Read{
		{Name: "keep", MapQ: 30, CB: "AAA", UB: "T"},
		{Name: "nocb", MapQ: 30, UB: "T"},
		{Name: "noub", MapQ: 30, CB: "AAA"},
		{Name: "lowq", MapQ: 5, CB: "AAA", UB: "T"},
	}
	p, done := newTestPipeline(t, reads, func(c *Config) { c.MapQ = 20 })
	defer done()

	assert.NoError(t, p.sortStage())
	names, err := listRuns(p.tmpdir)
	assert.NoError(t, err)
	assert.EQ(t, len(names), 1)
	recs := htstestutil.ReadBAM(t, filepath.Join(p.tmpdir, names[0]))
	assert.EQ(t, htstestutil.Names(recs), []string{"keep"})
}

func TestSortStageEmptyInput(t *testing.T) {
	p, done := newTestPipeline(t, nil, nil)
	defer done()

	assert.NoError(t, p.sortStage())
	names, err := listRuns(p.tmpdir)
	assert.NoError(t, err)
	assert.EQ(t, len(names), 0)
}

func TestRunHeaderSortOrderUnknown(t *testing.T) {
	p, done := newTestPipeline(t, []htstestutil.Read{{Name: "r1", MapQ: 30, CB: "AAA", UB: "T"}}, nil)
	defer done()
	assert.EQ(t, p.runHeader.SortOrder, sam.UnknownOrder)
}

func TestMergeStageProducesSortedFile(t *testing.T) {
	var reads []htstestutil.Read
	for _, cb := range []string{"TTT", "GGG", "CCC", "AAA"} {
		for _, ub := range []string{"G", "A", "T", "C"} {
			reads = append(reads, htstestutil.Read{Name: "r" + cb + ub, MapQ: 30, CB: cb, UB: ub})
		}
	}
	p, done := newTestPipeline(t, reads, func(c *Config) { c.ChunkSize = 3 })
	defer done()

	assert.NoError(t, p.sortStage())
	sorted, err := p.mergeStage()
	assert.NoError(t, err)
	assert.EQ(t, filepath.Base(sorted), "sorted.bam")

	// Only the final file remains; every consumed input was deleted.
	names, err := listRuns(p.tmpdir)
	assert.NoError(t, err)
	assert.EQ(t, names, []string{"sorted.bam"})

	recs := htstestutil.ReadBAM(t, sorted)
	assert.EQ(t, len(recs), len(reads))
	assertNonDecreasing(t, runKeys(t, recs))
}

func TestMergeStageNoRuns(t *testing.T) {
	p, done := newTestPipeline(t, nil, nil)
	defer done()
	assert.NoError(t, p.sortStage())
	sorted, err := p.mergeStage()
	assert.NoError(t, err)
	assert.EQ(t, sorted, "")
}

func TestMergeStageSingleRunGetsMarkedHeader(t *testing.T) {
	p, done := newTestPipeline(t, []htstestutil.Read{
		{Name: "r1", MapQ: 30, CB: "AAA", UB: "T"},
	}, nil)
	defer done()
	assert.NoError(t, p.sortStage())
	sorted, err := p.mergeStage()
	assert.NoError(t, err)
	assert.EQ(t, filepath.Base(sorted), "sorted.bam")

	r, err := bamio.Open(sorted)
	assert.NoError(t, err)
	defer r.Close()
	found := false
	for _, co := range r.Header().Comments {
		if strings.Contains(co, "scbamsplit") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestListRunsSkipsDotEntries(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), nil, 0o600))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "chunk00002.bam"), nil, 0o600))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "chunk00001.bam"), nil, 0o600))
	names, err := listRuns(dir)
	assert.NoError(t, err)
	assert.EQ(t, names, []string{"chunk00001.bam", "chunk00002.bam"})
}

func TestRunFileNaming(t *testing.T) {
	assert.EQ(t, filepath.Base(runFileName("tmp", 7)), "chunk00007.bam")
	assert.EQ(t, filepath.Base(mergedFileName("tmp", 'b', 3)), "mergedb00003.bam")
	// Run files sort before merge outputs, and rounds sort in order.
	assert.True(t, "chunk00007.bam" < "mergeda00000.bam")
	assert.True(t, "mergeda00001.bam" < "mergedb00000.bam")
}
