package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pscheid92/tabconsole/internal/domain"
)

// terminalNavigator prints where the browser console would have navigated.
type terminalNavigator struct {
	out io.Writer
}

var _ domain.Navigator = terminalNavigator{}

func (n terminalNavigator) Redirect(_ context.Context, route string) {
	_, _ = fmt.Fprintf(n.out, "-> %s\n", route)
}

func (n terminalNavigator) HardNavigate(_ context.Context, route string) {
	_, _ = fmt.Fprintf(n.out, "-> %s (reload)\n", route)
}
