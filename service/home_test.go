package service

import (
	"context"
	"testing"

	"ShortsStudio-server/models"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomeService_Listing(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := models.NewFileStore(fs, "/data/projects")
	require.NoError(t, err)
	projects := NewProjectService(store)
	_, err = projects.Create(context.Background(), "Home", "")
	require.NoError(t, err)

	for _, name := range []string{"prompt_2.txt", "prompt_1.txt", "b.PNG", "a.jpg", "final.mp4", "notes.md"} {
		require.NoError(t, afero.WriteFile(fs, "/data/outputs/"+name, []byte("x"), 0644))
	}
	require.NoError(t, fs.MkdirAll("/data/outputs/job-1", 0755))

	home := NewHomeService(fs, HomeDirs{Outputs: "/data/outputs", Temp: "/data/temp", Projects: "/data/projects"}, projects)
	listing, err := home.Listing(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/outputs/prompt_1.txt", "/data/outputs/prompt_2.txt"}, listing.Lists.Prompts)
	assert.Equal(t, []string{"/data/outputs/a.jpg", "/data/outputs/b.PNG"}, listing.Lists.Images)
	assert.Equal(t, []string{"/data/outputs/final.mp4"}, listing.Lists.Videos)
	require.Len(t, listing.Lists.Projects, 1)
	assert.Equal(t, "Home", listing.Lists.Projects[0].Title)
	assert.Equal(t, HomeCounts{Prompts: 2, Images: 2, Videos: 1, Projects: 1}, listing.Counts)

	ok, err := afero.DirExists(fs, "/data/temp")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHomeService_EmptyDirs(t *testing.T) {
	home := NewHomeService(afero.NewMemMapFs(), HomeDirs{Outputs: "/o", Temp: "/t", Projects: "/p"}, nil)
	listing, err := home.Listing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{}, listing.Lists.Images)
	assert.Equal(t, 0, listing.Counts.Projects)
}
