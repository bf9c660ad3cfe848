// Package vecadd is a fixture exercising the annotated-Go-source
// frontend: a barrier in the middle of a kernel body, a static shared
// tile, and a sreg read.
package vecadd

import "splitkernel/ksplitrt"

//ksplit:shared
var tile [8]float32

//ksplit:kernel
func Add(a, b, c *float32) {
	lane := ksplitrt.ThreadIdxX()
	_ = lane
	ksplitrt.Barrier()
	*c = *a + *b
}
