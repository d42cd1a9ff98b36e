package config

// ConfigBackend is the platform-native settings store. On macOS it is
// backed by UserDefaults through the `defaults` CLI; on other systems a
// JSON file under the XDG config directory. Lookups report ok=false when
// the key has never been set, which lets the loader fall through to
// defaults.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
