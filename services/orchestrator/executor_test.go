package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RnD-sandbox/image-sharing/services/powervs"
	"github.com/RnD-sandbox/image-sharing/services/report"
)

func setupWorkspace(w *fakeWorkspace) (*fakeCloud, powervs.Workspace) {
	cloud := newFakeCloud()
	cloud.add("acct", &fakeAccount{workspaces: []*fakeWorkspace{w}})
	return cloud, w.ws
}

func TestExecutorImport(t *testing.T) {
	t.Parallel()

	inFlight := powervs.ImportJob{State: powervs.JobStateRunning}
	done := powervs.ImportJob{State: powervs.JobStateCompleted}
	failedJob := powervs.ImportJob{State: powervs.JobStateFailed}

	tests := []struct {
		name       string
		setup      func(w *fakeWorkspace)
		wantBucket report.Bucket
		wantReason string
		wantImport bool
	}{
		{
			name:       "active image skips",
			setup:      func(w *fakeWorkspace) { w.images = []powervs.Image{activeImage()} },
			wantBucket: report.BucketSkipped,
			wantReason: ReasonImagePresent,
		},
		{
			name:       "running job skips",
			setup:      func(w *fakeWorkspace) { w.job = &inFlight },
			wantBucket: report.BucketSkipped,
			wantReason: ReasonImportInProgress,
		},
		{
			name: "inactive image with running job skips",
			setup: func(w *fakeWorkspace) {
				w.images = []powervs.Image{{ID: "img-1", Name: testImage, State: "queued"}}
				w.job = &inFlight
			},
			wantBucket: report.BucketSkipped,
			wantReason: ReasonImportInProgress,
		},
		{
			name:       "no prior job imports",
			setup:      func(*fakeWorkspace) {},
			wantBucket: report.BucketSuccess,
			wantImport: true,
		},
		{
			name:       "finished job imports again",
			setup:      func(w *fakeWorkspace) { w.job = &done },
			wantBucket: report.BucketSuccess,
			wantImport: true,
		},
		{
			name:       "failed job imports again",
			setup:      func(w *fakeWorkspace) { w.job = &failedJob },
			wantBucket: report.BucketSuccess,
			wantImport: true,
		},
		{
			name:       "job lookup failure",
			setup:      func(w *fakeWorkspace) { w.jobErr = errors.New("503") },
			wantBucket: report.BucketFailed,
		},
		{
			name:       "import rejected",
			setup:      func(w *fakeWorkspace) { w.importErr = errors.New("quota exceeded") },
			wantBucket: report.BucketFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := workspace("ws-1")
			tt.setup(w)
			cloud, ws := setupWorkspace(w)

			got := testExecutor(cloud).Execute(context.Background(), ActionImport, ActionNone, ws, "tok-acct")
			require.Equal(t, tt.wantBucket, got.Bucket())
			require.Equal(t, tt.wantReason, got.Reason)
			if tt.wantImport {
				require.Equal(t, []string{"ws-1"}, cloud.imports)
			} else {
				require.Empty(t, cloud.imports)
			}
			if tt.wantBucket == report.BucketFailed {
				var actionErr *ActionError
				require.ErrorAs(t, got.Err, &actionErr)
				require.Equal(t, "ws-1", actionErr.WorkspaceID)
			}
		})
	}
}

func TestExecutorImageListFailureIsFailFast(t *testing.T) {
	t.Parallel()

	for _, action := range []Action{ActionImport, ActionDelete} {
		w := workspace("ws-1")
		w.images = []powervs.Image{activeImage()}
		w.imagesErr = errors.New("connection reset")
		cloud, ws := setupWorkspace(w)

		got := testExecutor(cloud).Execute(context.Background(), action, ActionNone, ws, "tok-acct")
		require.Equal(t, report.BucketFailed, got.Bucket(), action.String())
		require.ErrorContains(t, got.Err, "connection reset")
		require.Empty(t, cloud.imports)
		require.Empty(t, cloud.deletes)
	}
}

func TestExecutorDelete(t *testing.T) {
	t.Parallel()

	w := workspace("ws-1")
	w.images = []powervs.Image{activeImage()}
	cloud, ws := setupWorkspace(w)
	exec := testExecutor(cloud)

	got := exec.Execute(context.Background(), ActionDelete, ActionNone, ws, "tok-acct")
	require.Equal(t, report.BucketSuccess, got.Bucket())
	require.Equal(t, []string{"ws-1"}, cloud.deletes)

	absent, absentWS := setupWorkspace(workspace("ws-2"))
	got = testExecutor(absent).Execute(context.Background(), ActionDelete, ActionNone, absentWS, "tok-acct")
	require.Equal(t, report.BucketSkipped, got.Bucket())
	require.Equal(t, ReasonImageMissing, got.Reason)
	require.Empty(t, absent.deletes)

	queued := workspace("ws-q")
	queued.images = []powervs.Image{{ID: "img-q", Name: activeImage().Name, State: "queued"}}
	queuedCloud, queuedWS := setupWorkspace(queued)
	got = testExecutor(queuedCloud).Execute(context.Background(), ActionDelete, ActionNone, queuedWS, "tok-acct")
	require.Equal(t, report.BucketSkipped, got.Bucket())
	require.Equal(t, ReasonImageNotActive, got.Reason)
	require.Empty(t, queuedCloud.deletes)

	broken := workspace("ws-3")
	broken.images = []powervs.Image{activeImage()}
	broken.deleteErr = errors.New("image in use")
	brokenCloud, brokenWS := setupWorkspace(broken)
	got = testExecutor(brokenCloud).Execute(context.Background(), ActionDelete, ActionNone, brokenWS, "tok-acct")
	require.Equal(t, report.BucketFailed, got.Bucket())
	require.Equal(t, "ws-3", got.Entry(brokenWS).ID)
	require.Contains(t, got.Entry(brokenWS).Error, "image in use")
}

func TestExecutorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pending Action
		setup   func(w *fakeWorkspace)
		want    report.Bucket
		wantErr error
	}{
		{
			name:    "completed job",
			pending: ActionImport,
			setup:   func(w *fakeWorkspace) { w.job = &powervs.ImportJob{State: powervs.JobStateCompleted} },
			want:    report.BucketSuccess,
		},
		{
			name:    "running job",
			pending: ActionImport,
			setup:   func(w *fakeWorkspace) { w.job = &powervs.ImportJob{State: powervs.JobStateRunning} },
			want:    report.BucketFailed,
			wantErr: ErrOperationNotComplete,
		},
		{
			name:    "no job",
			pending: ActionNone,
			setup:   func(*fakeWorkspace) {},
			want:    report.BucketFailed,
			wantErr: ErrOperationNotComplete,
		},
		{
			name:    "delete finished",
			pending: ActionDelete,
			setup:   func(*fakeWorkspace) {},
			want:    report.BucketSuccess,
		},
		{
			name:    "delete pending",
			pending: ActionDelete,
			setup:   func(w *fakeWorkspace) { w.images = []powervs.Image{activeImage()} },
			want:    report.BucketFailed,
			wantErr: ErrOperationNotComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := workspace("ws-1")
			tt.setup(w)
			cloud, ws := setupWorkspace(w)

			got := testExecutor(cloud).Execute(context.Background(), ActionStatus, tt.pending, ws, "tok-acct")
			require.Equal(t, tt.want, got.Bucket())
			if tt.wantErr != nil {
				require.ErrorIs(t, got.Err, tt.wantErr)
				require.Equal(t, "operation not complete", got.Entry(ws).Error)
			}
		})
	}
}

func TestExecutorUnknownAction(t *testing.T) {
	t.Parallel()

	cloud, ws := setupWorkspace(workspace("ws-1"))
	got := testExecutor(cloud).Execute(context.Background(), ActionNone, ActionNone, ws, "tok-acct")
	require.Equal(t, report.BucketFailed, got.Bucket())
}

func TestParseAction(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Action{"IMPORT": ActionImport, "delete": ActionDelete, " Status ": ActionStatus} {
		got, err := ParseAction(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseAction("COPY")
	require.ErrorContains(t, err, "unknown image operation")

	require.True(t, ActionImport.Async())
	require.True(t, ActionDelete.Async())
	require.False(t, ActionStatus.Async())

	cfg := DefaultPollConfig()
	require.Equal(t, cfg.ImportWait, ActionImport.FirstWait(cfg))
	require.Equal(t, cfg.DeleteWait, ActionDelete.FirstWait(cfg))
	require.Zero(t, ActionStatus.FirstWait(cfg))
}
