package cog

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Block is one decoded tile or strip of the first band.
type Block struct {
	Data   []float32
	Width  int
	Height int
}

// At returns the value at block-local (x, y).
func (b *Block) At(x, y int) float32 {
	return b.Data[y*b.Width+x]
}

// blockKey identifies a block within a specific file and IFD level.
type blockKey struct {
	path  string
	level int
	col   int
	row   int
}

// BlockCache holds decoded blocks shared by every reader of a run. Neighbouring
// output tiles read overlapping source blocks, so a block is decoded once and
// concurrent misses on the same block wait for a single decode.
type BlockCache struct {
	lru      *lru.Cache[blockKey, *Block]
	inflight singleflight.Group
}

// NewBlockCache creates a cache holding up to maxBlocks decoded blocks.
func NewBlockCache(maxBlocks int) (*BlockCache, error) {
	if maxBlocks <= 0 {
		maxBlocks = 256
	}
	c, err := lru.New[blockKey, *Block](maxBlocks)
	if err != nil {
		return nil, fmt.Errorf("creating block cache: %w", err)
	}
	return &BlockCache{lru: c}, nil
}

// Len returns the number of cached blocks.
func (c *BlockCache) Len() int {
	return c.lru.Len()
}

// get returns the cached block for key or decodes it with load.
func (c *BlockCache) get(key blockKey, load func() (*Block, error)) (*Block, error) {
	if b, ok := c.lru.Get(key); ok {
		return b, nil
	}

	sfKey := fmt.Sprintf("%s|%d|%d|%d", key.path, key.level, key.col, key.row)
	v, err, _ := c.inflight.Do(sfKey, func() (interface{}, error) {
		if b, ok := c.lru.Get(key); ok {
			return b, nil
		}
		b, err := load()
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Block), nil
}

// purge drops every block of path, used when a reader closes.
func (c *BlockCache) purge(path string) {
	for _, k := range c.lru.Keys() {
		if k.path == path {
			c.lru.Remove(k)
		}
	}
}
