package split

import (
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{Input: "in.bam", Meta: "meta.csv"}
	assert.NoError(t, cfg.Normalize())
	assert.EQ(t, cfg.Prefix, "./")
	assert.EQ(t, cfg.Threads, 1)
	assert.EQ(t, cfg.MemGiB, 1)
	assert.EQ(t, cfg.ChunkSize, chunkBase)
	assert.EQ(t, cfg.NameWidth, 70)
	assert.EQ(t, cfg.KeySize, 512)
	assert.NotNil(t, cfg.CB)
	assert.NotNil(t, cfg.UB)
}

func TestNormalizePrefixSlash(t *testing.T) {
	cfg := &Config{Input: "in.bam", Meta: "meta.csv", Prefix: "out"}
	assert.NoError(t, cfg.Normalize())
	assert.EQ(t, cfg.Prefix, "out/")
}

func TestNormalizeChunkSizeDerivation(t *testing.T) {
	cfg := &Config{Input: "in.bam", Meta: "meta.csv", MemGiB: 4, Threads: 8}
	assert.NoError(t, cfg.Normalize())
	assert.EQ(t, cfg.ChunkSize, chunkBase*4/8)

	override := &Config{Input: "in.bam", Meta: "meta.csv", ChunkSize: 17}
	assert.NoError(t, override.Normalize())
	assert.EQ(t, override.ChunkSize, 17)
}

func TestNormalizeRejectsHighMapq(t *testing.T) {
	cfg := &Config{Input: "in.bam", Meta: "meta.csv", MapQ: 255}
	err := cfg.Normalize()
	assert.NotNil(t, err)
	assert.True(t, strings.Contains(err.Error(), "255"))
}

func TestNormalizeRejectsMissingInputs(t *testing.T) {
	assert.NotNil(t, (&Config{Meta: "meta.csv"}).Normalize())
	assert.NotNil(t, (&Config{Input: "in.bam"}).Normalize())
}

func TestNormalizeRejectsOversizedKey(t *testing.T) {
	cfg := &Config{Input: "in.bam", Meta: "meta.csv", NameWidth: 600}
	err := cfg.Normalize()
	assert.NotNil(t, err)
	assert.True(t, strings.Contains(err.Error(), "key size"))
}
