package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/header"
	"github.com/cuemby/pippin/pkg/pippinio"
)

// idSetter is satisfied by every PartIO implementation this CLI opens;
// the partition id is fixed once, up front, rather than discovered from
// a file that might belong to a different partition.
type idSetter interface {
	SetPartId(element.PartId)
}

func openBackend(backend, dir string, partID element.PartId) (pippinio.PartIO, error) {
	switch backend {
	case "mem":
		m := pippinio.NewMemIO()
		m.SetPartId(partID)
		return m, nil
	case "bolt":
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating repo directory: %w", err)
		}
		b, err := pippinio.OpenBoltIO(filepath.Join(dir, "pippin.bolt"))
		if err != nil {
			return nil, err
		}
		b.SetPartId(partID)
		return b, nil
	case "dir", "":
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating repo directory: %w", err)
		}
		d, err := pippinio.NewDirIO(dir)
		if err != nil {
			return nil, err
		}
		d.SetPartId(partID)
		return d, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want dir, bolt, or mem)", backend)
	}
}

// instanceID returns this repository's stable identifier, generating and
// persisting one on first use. It is stamped onto every file header this
// CLI writes for the dir and bolt backends, so files produced by different
// invocations of the same repository are identifiable as siblings.
func instanceID(dir string) (uuid.UUID, error) {
	path := filepath.Join(dir, ".pippin-instance")
	if data, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(string(data)); err == nil {
			return id, nil
		}
	}

	id := uuid.New()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return uuid.Nil, fmt.Errorf("creating repo directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()), 0o644); err != nil {
		return uuid.Nil, fmt.Errorf("persisting instance id: %w", err)
	}
	return id, nil
}

func makeUserDataFunc(id uuid.UUID) func(header.Header) ([]header.UserData, error) {
	return func(h header.Header) ([]header.UserData, error) {
		return []header.UserData{{Tag: "INST", Value: []byte(id.String())}}, nil
	}
}
