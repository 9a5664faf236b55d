package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-lambda-go/cfn"
)

// Printer writes result envelopes to w instead of delivering them. guardctl
// uses it for dry runs and for events without a response URL.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Send prints resp as indented JSON. url is ignored.
func (p *Printer) Send(_ context.Context, _ string, resp *cfn.Response) error {
	body, err := Encode(resp)
	if err != nil {
		return err
	}
	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		return err
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.w, string(out))
	return err
}
