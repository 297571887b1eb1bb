package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	notificationsBus  = "org.freedesktop.Notifications"
	notificationsPath = "/org/freedesktop/Notifications"
	desktopSummary    = "kiroku"
	// synchronousTag lets servers that ignore replace IDs still collapse
	// successive job notices into one.
	synchronousTag = "kiroku-job"
)

// notice is one job notification before it is rendered for a backend.
type notice struct {
	icon      int
	timeoutMS int
	color     string
	text      string
	percent   int // -1 when the notice carries no progress
	critical  bool
}

// desktopNotifyArgs renders a Notify call. Progress notices carry the
// standard "value" hint so notification servers draw a bar.
func desktopNotifyArgs(appName string, replaceID uint32, n notice) []string {
	hints := [][]string{{"x-canonical-private-synchronous", "s", synchronousTag}}
	if n.percent >= 0 {
		hints = append(hints, []string{"value", "i", strconv.Itoa(n.percent)})
	}
	if n.critical {
		hints = append(hints, []string{"urgency", "y", "2"})
	}

	args := []string{
		"Notify",
		"susssasa{sv}i",
		appName,
		strconv.FormatUint(uint64(replaceID), 10),
		"",
		desktopSummary,
		n.text,
		"0",
		strconv.Itoa(len(hints)),
	}
	for _, hint := range hints {
		args = append(args, hint...)
	}
	return append(args, strconv.Itoa(n.timeoutMS))
}

// desktopNotify shows or replaces a notice and returns the server's ID.
func desktopNotify(ctx context.Context, appName string, replaceID uint32, n notice) (uint32, error) {
	reply, err := busctlNotifications(ctx, desktopNotifyArgs(appName, replaceID, n)...)
	if err != nil {
		return 0, err
	}
	return parseNotificationID(reply)
}

func desktopDismiss(ctx context.Context, id uint32) error {
	_, err := busctlNotifications(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10))
	return err
}

func busctlNotifications(ctx context.Context, args ...string) (string, error) {
	argv := append([]string{"--user", "call", notificationsBus, notificationsPath, notificationsBus}, args...)
	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	reply := strings.TrimSpace(string(out))
	if err != nil {
		if reply == "" {
			return "", fmt.Errorf("busctl %s: %w", args[0], err)
		}
		return "", fmt.Errorf("busctl %s: %w (%s)", args[0], err, reply)
	}
	return reply, nil
}

// parseNotificationID reads busctl's "u <id>" reply.
func parseNotificationID(reply string) (uint32, error) {
	fields := strings.Fields(reply)
	if len(fields) != 2 || fields[0] != "u" {
		return 0, fmt.Errorf("unexpected Notify reply %q", reply)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse notification id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}
