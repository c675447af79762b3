package version

import (
	"context"
	"strings"
	"testing"

	"github.com/liangyou/nodevm/pkg/models"
)

func TestListerLocalVersionsMarksDefaultAndSession(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	installLocal(t, store, "18.9.0", "Hydrogen")
	def := installLocal(t, store, "20.1.0", "")
	installLocal(t, store, "22.3.0", "")

	lister := NewLister(nil, store, &fakePointer{current: def, set: true})
	versions, err := lister.LocalVersions("18.9.0")
	if err != nil {
		t.Fatalf("LocalVersions failed: %v", err)
	}
	if len(versions) != 3 || versions[0].Number != "22.3.0" || versions[2].Number != "18.9.0" {
		t.Fatalf("unexpected order: %#v", versions)
	}
	if !versions[1].IsDefault || versions[0].IsDefault {
		t.Fatalf("default not marked: %#v", versions)
	}
	if !versions[2].InSession {
		t.Fatalf("session not marked: %#v", versions)
	}

	current, err := lister.CurrentVersion("18.9.0")
	if err != nil || current == nil || current.Number != "18.9.0" {
		t.Fatalf("session version should win: %#v %v", current, err)
	}
	current, err = lister.CurrentVersion("")
	if err != nil || current == nil || current.Number != "20.1.0" {
		t.Fatalf("default version expected: %#v %v", current, err)
	}
}

func TestListerCurrentVersionNone(t *testing.T) {
	t.Parallel()

	lister := NewLister(nil, newStore(t), &fakePointer{})
	current, err := lister.CurrentVersion("")
	if err != nil || current != nil {
		t.Fatalf("expected no current version, got %#v %v", current, err)
	}
}

func TestListerRemoteVersionsMarksInstalled(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	installLocal(t, store, "20.1.0", "")
	index := &fakeIndex{versions: catalog("22.3.0", "20.1.0:Iron")}

	idx, err := NewLister(index, store, nil).RemoteVersions(context.Background())
	if err != nil {
		t.Fatalf("RemoteVersions failed: %v", err)
	}
	if idx.Versions[0].Installed() || !idx.Versions[1].Installed() {
		t.Fatalf("installed flags wrong: %#v", idx.Versions)
	}
	if _, err := NewLister(nil, store, nil).RemoteVersions(context.Background()); err == nil {
		t.Fatal("expected error without remote client")
	}
}

func TestFormatVersions(t *testing.T) {
	t.Parallel()

	remote := FormatRemoteVersion(models.Version{Number: "20.1.0", LTS: "Iron", Status: models.StatusInstalled})
	if remote != "v20.1.0    (LTS: Iron) [installed]" {
		t.Fatalf("unexpected remote format: %q", remote)
	}
	if got := FormatRemoteVersion(models.Version{Number: "22.3.0"}); got != "v22.3.0" {
		t.Fatalf("unexpected remote format: %q", got)
	}

	local := FormatLocalVersion(models.Version{Number: "20.1.0", IsDefault: true, InstallPath: "/x/v20.1.0"})
	if local != "* v20.1.0 - /x/v20.1.0" {
		t.Fatalf("unexpected local format: %q", local)
	}
	if got := FormatLocalVersion(models.Version{Number: "18.9.0", InSession: true, IsDefault: true}); !strings.HasPrefix(got, "> ") {
		t.Fatalf("session marker should take precedence: %q", got)
	}
}
