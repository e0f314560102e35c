package workerrpc

import "fmt"

// stateLiteral renders the "<0|1><intent>" token §4.D's vcl.load and
// vcl.state commands embed: a warm bit followed by the bare intent word.
func stateLiteral(warm bool, intent string) string {
	bit := "0"
	if warm {
		bit = "1"
	}
	return bit + intent
}

// LoadCommand builds a vcl.load request.
func LoadCommand(name, artifactPath string, warm bool, intent string) string {
	return fmt.Sprintf("vcl.load %q %s %s", name, artifactPath, stateLiteral(warm, intent))
}

// StateCommand builds a vcl.state request.
func StateCommand(name string, warm bool, intent string) string {
	return fmt.Sprintf("vcl.state %s %s", name, stateLiteral(warm, intent))
}

// UseCommand builds a vcl.use request.
func UseCommand(name string) string {
	return fmt.Sprintf("vcl.use %q", name)
}

// LabelCommand builds a vcl.label request.
func LabelCommand(label, target string) string {
	return fmt.Sprintf("vcl.label %s %s", label, target)
}

// DiscardCommand builds a vcl.discard request.
func DiscardCommand(name string) string {
	return fmt.Sprintf("vcl.discard %s", name)
}

// ListCommand builds a vcl.list request.
func ListCommand() string {
	return "vcl.list"
}

// StartCommand builds the one-shot start request.
func StartCommand() string {
	return "start"
}
