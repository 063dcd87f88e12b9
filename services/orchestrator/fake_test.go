package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/RnD-sandbox/image-sharing/pkg/cloudapi"
	"github.com/RnD-sandbox/image-sharing/services/iam"
	"github.com/RnD-sandbox/image-sharing/services/powervs"
	"github.com/RnD-sandbox/image-sharing/services/report"
)

const testImage = "rhel-9"

type fakeWorkspace struct {
	ws        powervs.Workspace
	images    []powervs.Image
	job       *powervs.ImportJob
	imagesErr error
	jobErr    error
	importErr error
	deleteErr error
}

type fakeAccount struct {
	tokenErr   error
	listErr    error
	workspaces []*fakeWorkspace
}

// fakeCloud implements TokenExchanger and WorkspaceAPI in memory.
type fakeCloud struct {
	mu       sync.Mutex
	accounts map[string]*fakeAccount
	delay    time.Duration

	exchanges  int
	listCalls  int
	imports    []string
	deletes    []string
	active     int
	maxActive  int
	completeOn bool
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{accounts: map[string]*fakeAccount{}}
}

func (f *fakeCloud) add(accountID string, a *fakeAccount) {
	f.accounts[accountID] = a
}

func (f *fakeCloud) Exchange(_ context.Context, profileID, accountID, parentToken string) (iam.Token, error) {
	f.mu.Lock()
	f.exchanges++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	acct, ok := f.accounts[accountID]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if !ok {
		return iam.Token{}, errors.New("unknown account")
	}
	if acct.tokenErr != nil {
		return iam.Token{}, acct.tokenErr
	}
	return iam.Token{AccessToken: "tok-" + accountID}, nil
}

func (f *fakeCloud) account(token string) (*fakeAccount, error) {
	acct, ok := f.accounts[strings.TrimPrefix(token, "tok-")]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return acct, nil
}

func (f *fakeCloud) workspace(token string, ws powervs.Workspace) (*fakeWorkspace, error) {
	acct, err := f.account(token)
	if err != nil {
		return nil, err
	}
	for _, w := range acct.workspaces {
		if w.ws.ID == ws.ID {
			return w, nil
		}
	}
	return nil, &cloudapi.APIError{StatusCode: http.StatusNotFound}
}

func (f *fakeCloud) ListWorkspaces(_ context.Context, token string) ([]powervs.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	acct, err := f.account(token)
	if err != nil {
		return nil, err
	}
	if acct.listErr != nil {
		return nil, acct.listErr
	}
	out := make([]powervs.Workspace, 0, len(acct.workspaces))
	for _, w := range acct.workspaces {
		out = append(out, w.ws)
	}
	return out, nil
}

func (f *fakeCloud) ListImages(_ context.Context, token string, ws powervs.Workspace) ([]powervs.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, err := f.workspace(token, ws)
	if err != nil {
		return nil, err
	}
	if w.imagesErr != nil {
		return nil, w.imagesErr
	}
	return append([]powervs.Image(nil), w.images...), nil
}

func (f *fakeCloud) ImportImage(_ context.Context, token string, ws powervs.Workspace, req powervs.ImportRequest) (powervs.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, err := f.workspace(token, ws)
	if err != nil {
		return powervs.ImportJob{}, err
	}
	if w.importErr != nil {
		return powervs.ImportJob{}, w.importErr
	}
	f.imports = append(f.imports, ws.ID)
	job := powervs.ImportJob{ID: "job-" + ws.ID, State: powervs.JobStateQueued}
	if f.completeOn {
		job.State = powervs.JobStateCompleted
		w.images = append(w.images, powervs.Image{ID: "img-" + ws.ID, Name: req.ImageName, State: powervs.ImageStateActive})
	}
	w.job = &job
	return job, nil
}

func (f *fakeCloud) DeleteImage(_ context.Context, token string, ws powervs.Workspace, imageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, err := f.workspace(token, ws)
	if err != nil {
		return err
	}
	if w.deleteErr != nil {
		return w.deleteErr
	}
	f.deletes = append(f.deletes, ws.ID)
	if f.completeOn {
		kept := w.images[:0]
		for _, img := range w.images {
			if img.ID != imageID {
				kept = append(kept, img)
			}
		}
		w.images = kept
	}
	return nil
}

func (f *fakeCloud) LastImportJob(_ context.Context, token string, ws powervs.Workspace) (powervs.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, err := f.workspace(token, ws)
	if err != nil {
		return powervs.ImportJob{}, err
	}
	if w.jobErr != nil {
		return powervs.ImportJob{}, w.jobErr
	}
	if w.job == nil {
		return powervs.ImportJob{}, &cloudapi.APIError{Method: http.MethodGet, StatusCode: http.StatusNotFound}
	}
	return *w.job, nil
}

func workspace(id string) *fakeWorkspace {
	return &fakeWorkspace{ws: powervs.Workspace{ID: id, Name: "name-" + id, CRN: "crn:" + id, BaseURL: "https://" + id}}
}

func activeImage() powervs.Image {
	return powervs.Image{ID: "img-1", Name: testImage, State: powervs.ImageStateActive}
}

func testExecutor(cloud *fakeCloud) *Executor {
	return NewExecutor(cloud, powervs.ImportRequest{
		ImageName:     testImage,
		Region:        "us-south",
		ImageFilename: "rhel-9.ova.gz",
		BucketName:    "images",
	})
}

type memoryStore struct {
	mu    sync.Mutex
	saves map[string][]report.RunReport
	err   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saves: map[string][]report.RunReport{}}
}

func (s *memoryStore) Save(_ context.Context, action string, r report.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves[action] = append(s.saves[action], r)
	return nil
}

func (s *memoryStore) count(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves[action])
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []any
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, v)
	return nil
}
