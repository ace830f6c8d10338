package config

// Source is the part of confloader.Loader that Load needs.
type Source interface {
	Unmarshal(target any) error
	Exists(key string) bool
}

// Load decodes src over the defaults. A hierarchy given by src replaces
// the default list instead of being merged into it element by element.
func Load(src Source) (*ClientConfig, error) {
	cfg := Default()
	cfg.Persistence.Hierarchy = nil
	if err := src.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if !src.Exists("persistence.hierarchy") {
		cfg.Persistence.Hierarchy = DefaultHierarchy()
	}
	return cfg, nil
}
