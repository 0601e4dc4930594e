package vi

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/msvis/ms"
)

// setTileCache shrinks the tile caches of the tiled bulk columns of the
// current MS to one row-slab of tiles per hypercube.
//
// It runs on MS and spectral window changes only, and touches each column
// at most once per MS. Storage managers may be shared with other readers;
// the change is visible to them.
func (c *ReadCursor) setTileCache() error {
	for _, name := range ms.BulkColumns {
		if c.tileCacheSet[name] || !c.cols.Has(name) {
			continue
		}
		sm, err := c.cols.Table.StorageManager(name)
		if err != nil {
			return err
		}
		c.tileCacheSet[name] = true
		if !sm.IsTiled() {
			continue
		}
		for h, cube := range sm.Hypercubes() {
			n := cube.TilesPerRowSlab()
			if n < 1 {
				n = 1
			}
			if err := sm.SetCacheSize(h, n); err != nil {
				return err
			}
			c.tileCacheUpdates++
			log.Debug.Printf("vi: %s column %s hypercube %d: cache %d tiles", c.MS().Name, name, h, n)
		}
	}
	return nil
}
