package executor

import "context"

// output collects the print calls of a single run.
type output struct {
	fn     PrintFunc
	prints [][]any
}

func (o *output) write(args []any) {
	o.prints = append(o.prints, args)
	if o.fn != nil {
		o.fn(args)
	}
}

type outputKey struct{}

func withOutput(ctx context.Context, out *output) context.Context {
	return context.WithValue(ctx, outputKey{}, out)
}

func outputFrom(ctx context.Context) *output {
	if ctx == nil {
		return nil
	}
	out, _ := ctx.Value(outputKey{}).(*output)
	return out
}
