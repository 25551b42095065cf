package stdiff

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/ml/context"
)

// Summary returns a one-line description of the variables created in the context: number of
// parameters and memory used.
func Summary(ctx *context.Context) string {
	return fmt.Sprintf("%s parameters, %s", humanize.Comma(int64(ctx.NumParameters())), humanize.Bytes(uint64(ctx.Memory())))
}
