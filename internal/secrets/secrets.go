// Package secrets fetches the repository passphrase from the desktop
// secret service (org.freedesktop.secrets) over the session bus. The
// passphrase is only ever held in memory.
package secrets

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when no stored secret matches the lookup
// attributes.
var ErrNotFound = errors.New("no matching secret found")

// Store looks up one secret by attributes.
type Store interface {
	Lookup(attributes map[string]string) (string, error)
}

const (
	busName  = "org.freedesktop.secrets"
	basePath = dbus.ObjectPath("/org/freedesktop/secrets")

	serviceIface = "org.freedesktop.Secret.Service"
	sessionIface = "org.freedesktop.Secret.Session"
	itemIface    = "org.freedesktop.Secret.Item"
)

// ServiceStore implements Store against the freedesktop Secret Service
// API, equivalent to `secret-tool lookup <attribute> <value>`.
type ServiceStore struct {
	// Connect defaults to dbus.SessionBus; tests may substitute it.
	Connect func() (*dbus.Conn, error)
}

// secret mirrors the D-Bus Secret struct (oayays).
type secret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

func (s ServiceStore) Lookup(attributes map[string]string) (string, error) {
	connect := s.Connect
	if connect == nil {
		connect = dbus.SessionBus
	}
	conn, err := connect()
	if err != nil {
		return "", fmt.Errorf("connecting to session bus: %w", err)
	}

	service := conn.Object(busName, basePath)

	// A plain (unencrypted) session is fine: the bus is already a
	// private per-user channel.
	var discard dbus.Variant
	var sessionPath dbus.ObjectPath
	err = service.Call(serviceIface+".OpenSession", 0, "plain", dbus.MakeVariant("")).
		Store(&discard, &sessionPath)
	if err != nil {
		return "", fmt.Errorf("opening secret service session: %w", err)
	}
	defer func() {
		if err := conn.Object(busName, sessionPath).Call(sessionIface+".Close", 0).Err; err != nil {
			log.WithError(err).Debug("closing secret service session")
		}
	}()

	var unlocked, locked []dbus.ObjectPath
	err = service.Call(serviceIface+".SearchItems", 0, attributes).
		Store(&unlocked, &locked)
	if err != nil {
		return "", fmt.Errorf("searching secret service items: %w", err)
	}

	if len(unlocked) == 0 && len(locked) > 0 {
		// Ask the service to unlock; a prompt cannot be serviced in a
		// non-interactive run, so only items unlocked immediately count.
		var nowUnlocked []dbus.ObjectPath
		var prompt dbus.ObjectPath
		err = service.Call(serviceIface+".Unlock", 0, locked).
			Store(&nowUnlocked, &prompt)
		if err != nil {
			return "", fmt.Errorf("unlocking secret service items: %w", err)
		}
		unlocked = nowUnlocked
	}
	if len(unlocked) == 0 {
		return "", fmt.Errorf("attributes %v: %w", attributes, ErrNotFound)
	}
	if len(unlocked) > 1 {
		log.WithField("matches", len(unlocked)).Warn("multiple secrets match; using the first")
	}

	var sec secret
	err = conn.Object(busName, unlocked[0]).Call(itemIface+".GetSecret", 0, sessionPath).
		Store(&sec)
	if err != nil {
		return "", fmt.Errorf("reading secret value: %w", err)
	}
	return string(sec.Value), nil
}
