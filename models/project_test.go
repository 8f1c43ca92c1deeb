package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDecodeState_OverlaysDefaults(t *testing.T) {
	state, err := DecodeState([]byte(`{"title":"t","image_progress":{"progress":40}}`))
	require.NoError(t, err)

	assert.Equal(t, "t", state.Title)
	assert.Equal(t, 1, state.MinShotsPerScene)
	assert.Equal(t, []string{}, state.Prompts)
	assert.Equal(t, []Cut{}, state.Cuts)
	assert.Equal(t, 40.0, state.ImageProgress.Progress)
	assert.Equal(t, "", state.ImageProgress.Status)
}

func TestDecodeState_Malformed(t *testing.T) {
	_, err := DecodeState([]byte(`{"title":`))
	assert.Error(t, err)
}

func TestApply_ProgressMergesKeyWise(t *testing.T) {
	state := DefaultState()
	state.Title = "title"
	state.Prompts = []string{"a"}
	state.ImageProgress = ProgressMirror{Status: "generating", Progress: 10, Message: "image 1/2"}
	before := state

	state.Apply(StatePatch{ImageProgress: &ProgressPatch{Progress: ptr(55.0)}})

	assert.Equal(t, 55.0, state.ImageProgress.Progress)
	assert.Equal(t, "generating", state.ImageProgress.Status)
	assert.Equal(t, "image 1/2", state.ImageProgress.Message)
	assert.Equal(t, before.Title, state.Title)
	assert.Equal(t, before.Prompts, state.Prompts)
	assert.Equal(t, before.MinShotsPerScene, state.MinShotsPerScene)
	assert.Equal(t, before.ImageJobID, state.ImageJobID)
}

func TestApply_FromJSONLeavesUnmentionedFields(t *testing.T) {
	var patch StatePatch
	require.NoError(t, json.Unmarshal([]byte(`{"min_shots_per_scene":3}`), &patch))

	state := DefaultState()
	state.Title = "keep"
	state.Apply(patch)

	want := DefaultState()
	want.Title = "keep"
	want.MinShotsPerScene = 3
	assert.Equal(t, want, state)
}

func TestApply_EmptyListsReplace(t *testing.T) {
	var patch StatePatch
	require.NoError(t, json.Unmarshal([]byte(`{"prompts":[]}`), &patch))
	require.NotNil(t, patch.Prompts)

	state := DefaultState()
	state.Prompts = []string{"a", "b"}
	state.Apply(patch)
	assert.Equal(t, []string{}, state.Prompts)
}

func TestStatePatch_Validate(t *testing.T) {
	assert.NoError(t, StatePatch{MinShotsPerScene: ptr(1)}.Validate())
	assert.ErrorIs(t, StatePatch{MinShotsPerScene: ptr(0)}.Validate(), ErrInvalidState)
	assert.ErrorIs(t, StatePatch{ImageProgress: &ProgressPatch{Progress: ptr(101.0)}}.Validate(), ErrInvalidState)
	assert.ErrorIs(t, StatePatch{Cuts: &[]Cut{{CutID: 0}}}.Validate(), ErrInvalidState)
	assert.True(t, StatePatch{}.IsEmpty())
}

func TestProjectState_ValueScan(t *testing.T) {
	state := DefaultState()
	state.Story = "once"
	state.Cuts = []Cut{{CutID: 1, CutName: "open", Dialogues: []DialogueLine{{Speaker: "A", Text: "hi"}}}}

	v, err := state.Value()
	require.NoError(t, err)

	var back ProjectState
	require.NoError(t, back.Scan(v))
	assert.Equal(t, "once", back.Story)
	assert.Equal(t, "open", back.Cuts[0].CutName)

	require.NoError(t, back.Scan(nil))
	assert.Equal(t, DefaultState(), back)
	assert.Error(t, back.Scan(42))
}

func TestCutClone_DoesNotShareSlices(t *testing.T) {
	emotion := "calm"
	c := Cut{CutID: 1, Actions: []string{"walk"}, Dialogues: []DialogueLine{{Speaker: "A", Emotion: &emotion}}}
	clone := c.Clone()
	clone.Actions[0] = "run"
	*clone.Dialogues[0].Emotion = "angry"

	assert.Equal(t, "walk", c.Actions[0])
	assert.Equal(t, "calm", *c.Dialogues[0].Emotion)
}

func TestNormalizeMode(t *testing.T) {
	assert.Equal(t, ProjectModeFusion, NormalizeMode("fusion"))
	assert.Equal(t, ProjectModeStory, NormalizeMode("story"))
	assert.Equal(t, ProjectModeStory, NormalizeMode("other"))
}
