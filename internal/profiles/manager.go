package profiles

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirbelkuyu/tablescope/internal/config"
)

const defaultDir = "configs"

// ErrNotFound is returned for an alias with no profile file behind it.
var ErrNotFound = errors.New("profile not found")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

// Profile is a saved source configuration. Type is the source type and
// Target names what it points at: the base URL or the database address.
type Profile struct {
	Name     string
	Path     string
	Type     string
	Target   string
	Modified time.Time
}

// Manager keeps source profiles as YAML files in one directory.
type Manager struct {
	dir string
}

func NewManager(dir string) *Manager {
	if strings.TrimSpace(dir) == "" {
		dir = defaultDir
	}
	return &Manager{dir: dir}
}

func (m *Manager) Directory() string {
	return m.dir
}

// List returns the profiles of the given source type, or all of them when
// sourceType is empty, sorted by name. Unreadable files are skipped.
func (m *Manager) List(sourceType string) ([]Profile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Profile
	for _, entry := range entries {
		if entry.IsDir() || !isProfileFile(entry.Name()) {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		cfg, err := config.LoadConfig(path)
		if err != nil {
			continue
		}
		if sourceType != "" && cfg.Source.Type != sourceType {
			continue
		}
		var modified time.Time
		if info, err := entry.Info(); err == nil {
			modified = info.ModTime()
		}
		out = append(out, Profile{
			Name:     strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Path:     path,
			Type:     cfg.Source.Type,
			Target:   target(cfg),
			Modified: modified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save validates cfg and writes it under alias, replacing a profile of the
// same name. A blank alias gets a timestamped name. The literal bearer token
// is never written; token_env is.
func (m *Manager) Save(alias string, cfg *config.Config) (Profile, error) {
	if cfg == nil {
		return Profile{}, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return Profile{}, fmt.Errorf("invalid profile: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return Profile{}, err
	}

	name := strings.TrimSpace(alias)
	if name == "" {
		name = fmt.Sprintf("%s-%s", cfg.Source.Type, time.Now().Format("20060102_150405"))
	}
	name = sanitizeName(strings.TrimSuffix(name, filepath.Ext(name)))

	stored := *cfg
	stored.Source.Token = ""
	data, err := yaml.Marshal(&stored)
	if err != nil {
		return Profile{}, err
	}

	path := filepath.Join(m.dir, name+".yaml")
	// Profiles may carry database passwords.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Profile{}, err
	}

	return Profile{
		Name:     name,
		Path:     path,
		Type:     cfg.Source.Type,
		Target:   target(&stored),
		Modified: time.Now(),
	}, nil
}

// Load reads a profile by alias or file path.
func (m *Manager) Load(alias string) (*config.Config, error) {
	path, err := m.resolve(alias)
	if err != nil {
		return nil, err
	}
	return config.LoadConfig(path)
}

func (m *Manager) Delete(alias string) error {
	path, err := m.resolve(alias)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, alias)
		}
		return err
	}
	return nil
}

// resolve maps an alias to its file. Anything containing a path separator is
// taken as a path as is.
func (m *Manager) resolve(alias string) (string, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return "", errors.New("profile alias cannot be empty")
	}
	if strings.ContainsRune(alias, os.PathSeparator) {
		return alias, nil
	}
	if isProfileFile(alias) {
		return filepath.Join(m.dir, alias), nil
	}
	return filepath.Join(m.dir, alias+".yaml"), nil
}

func isProfileFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func sanitizeName(input string) string {
	cleaned := strings.Trim(unsafeChars.ReplaceAllString(input, "_"), "_")
	if cleaned == "" {
		return "profile"
	}
	return cleaned
}

func target(cfg *config.Config) string {
	switch cfg.Source.Type {
	case config.SourceHTTP:
		return cfg.Source.BaseURL
	case config.SourceMongo:
		if cfg.Database.URI != "" {
			return cfg.Database.Database
		}
	}
	host := cfg.Database.Host
	if cfg.Database.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(cfg.Database.Port))
	}
	if cfg.Database.Database == "" {
		return host
	}
	return host + "/" + cfg.Database.Database
}
