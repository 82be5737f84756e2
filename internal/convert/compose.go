package convert

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"liberator/internal/config"
	"liberator/internal/types"
)

const defaultProject = "liberated-app"

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]struct{}       `yaml:"volumes,omitempty"`
}

type composeService struct {
	Image       string            `yaml:"image,omitempty"`
	Build       string            `yaml:"build,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	Restart     string            `yaml:"restart,omitempty"`
}

// ComposeManifest renders the docker-compose.yml placed at the archive root:
// the converted backend, the copied frontend and a postgres database. When
// the platform folder is packaged and migrations exist, they seed the
// database on first start.
func ComposeManifest(opts types.MigrationOptions, layout config.LayoutConfig, hasMigrations bool) ([]byte, error) {
	project := SafeName(opts.ProjectName)
	if project == "" {
		project = defaultProject
	}
	dbURL := "postgres://postgres:postgres@db:5432/" + project

	db := composeService{
		Image: "postgres:16-alpine",
		Environment: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       project,
		},
		Volumes: []string{"db-data:/var/lib/postgresql/data"},
		Restart: "unless-stopped",
	}
	if opts.IncludePlatformFolder && hasMigrations {
		db.Volumes = append(db.Volumes, "./"+layout.MigrationsRoot()+":/docker-entrypoint-initdb.d:ro")
	}

	doc := composeFile{
		Services: map[string]composeService{
			"backend": {
				Build:       "./backend",
				Ports:       []string{"3000:3000"},
				Environment: map[string]string{"DATABASE_URL": dbURL, "PORT": "3000"},
				DependsOn:   []string{"db"},
				Restart:     "unless-stopped",
			},
			"frontend": {
				Build:     "./frontend",
				Ports:     []string{"8080:80"},
				DependsOn: []string{"backend"},
				Restart:   "unless-stopped",
			},
			"db": db,
		},
		Volumes: map[string]struct{}{"db-data": {}},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
