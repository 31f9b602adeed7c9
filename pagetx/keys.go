package pagetx

import (
	"fmt"

	"github.com/sirixcore/sirix/page"
)

// indirectKey identifies one in-flight (not yet flushed) indirect page by
// its position in the fan-out tree: the family/index sub-tree selector plus
// the path of child indices chosen to reach it from the sub-tree's root.
type indirectKey struct {
	family page.Family
	index  int
	path   string
}

// makeIndirectKey builds the identity of the indirect page reached by path.
// The level-0 page (empty path) is the family's single shared root, further
// selected into by the index-number slot inside it (page.IndexAddress), so
// every index number collapses to the same key there.
func makeIndirectKey(family page.Family, index int, path []int) indirectKey {
	if len(path) == 0 {
		index = 0
	}
	return indirectKey{family: family, index: index, path: fmt.Sprint(path)}
}

// recordsKey identifies one leaf bucket awaiting flush.
type recordsKey struct {
	family  page.Family
	index   int
	pageKey int64
}
