package inject

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func fakeExec(responses map[string]string, fail map[string]bool) func(ctx context.Context, name string, args ...string) (string, error) {
	return func(ctx context.Context, name string, args ...string) (string, error) {
		key := name + " " + strings.Join(args, " ")
		for k := range fail {
			if strings.Contains(key, k) {
				return "", errors.New("boom")
			}
		}
		for k, v := range responses {
			if strings.Contains(key, k) {
				return v, nil
			}
		}
		return "", nil
	}
}

func TestDetectStatusFromContent(t *testing.T) {
	cases := map[string]Status{
		"some output\n(ctrl+c to interrupt)\n": StatusWorking,
		"Allow this action? [y/n]":              StatusWaiting,
		"❯ ":                                    StatusIdle,
		"":                                       StatusUnknown,
		"nothing recognizable here":             StatusUnknown,
	}
	for content, want := range cases {
		if got := detectStatusFromContent(content); got != want {
			t.Errorf("detectStatusFromContent(%q) = %v, want %v", content, got, want)
		}
	}
}

func TestTmuxMultiplexerStatusOfDeadWhenNoAssistant(t *testing.T) {
	m := &TmuxMultiplexer{Exec: fakeExec(map[string]string{
		"list-panes": "zsh\n",
	}, nil)}
	if got := m.StatusOf(context.Background(), "work"); got != StatusDead {
		t.Fatalf("got %v, want dead", got)
	}
}

func TestTmuxMultiplexerStatusOfIdle(t *testing.T) {
	m := &TmuxMultiplexer{Exec: fakeExec(map[string]string{
		"list-panes":   "claude\n",
		"capture-pane": "❯ ",
	}, nil)}
	if got := m.StatusOf(context.Background(), "work"); got != StatusIdle {
		t.Fatalf("got %v, want idle", got)
	}
}

func TestSendKeysRefusesWhenNotIdle(t *testing.T) {
	m := &TmuxMultiplexer{Exec: fakeExec(map[string]string{
		"list-panes":   "claude\n",
		"capture-pane": "(ctrl+c to interrupt)",
	}, nil)}
	if err := m.SendKeys(context.Background(), "work", "hi"); !errors.Is(err, ErrSessionNotIdle) {
		t.Fatalf("got %v, want ErrSessionNotIdle", err)
	}
}

func TestInjectorDeliverFallsBackToDevice(t *testing.T) {
	var injectedPath, injectedText string
	dev := deviceInjectorFunc(func(ctx context.Context, path, text string) error {
		injectedPath, injectedText = path, text
		return nil
	})

	inj := New(nil, dev)
	if err := inj.Deliver(context.Background(), SessionTarget{DevicePath: "/dev/ttys005"}, "hello"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if injectedPath != "/dev/ttys005" || injectedText != "hello" {
		t.Fatalf("got (%q, %q)", injectedPath, injectedText)
	}
}

func TestInjectorDeliverNoTerminal(t *testing.T) {
	inj := New(nil, nil)
	if err := inj.Deliver(context.Background(), SessionTarget{}, "hi"); !errors.Is(err, ErrNoTerminal) {
		t.Fatalf("got %v, want ErrNoTerminal", err)
	}
}

type deviceInjectorFunc func(ctx context.Context, devicePath, text string) error

func (f deviceInjectorFunc) Inject(ctx context.Context, devicePath, text string) error {
	return f(ctx, devicePath, text)
}
