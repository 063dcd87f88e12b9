package powervs

// Image states reported by the workspace image catalog.
const (
	ImageStateActive = "active"
)

// Import job states.
const (
	JobStateQueued             = "queued"
	JobStateReadyForProcessing = "readyForProcessing"
	JobStateInProgress         = "inProgress"
	JobStateRunning            = "running"
	JobStateCompleted          = "completed"
	JobStateFailed             = "failed"
)

// Workspace is an isolated compute workspace inside an account.
type Workspace struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	CRN     string `json:"crn"`
	BaseURL string `json:"base_url"`
}

// Image is a boot image in a workspace catalog.
type Image struct {
	ID    string `json:"imageID"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// Active reports whether the image is usable.
func (i Image) Active() bool {
	return i.State == ImageStateActive
}

// FindImage returns the first image called name.
func FindImage(images []Image, name string) (Image, bool) {
	for _, img := range images {
		if img.Name == name {
			return img, true
		}
	}
	return Image{}, false
}

// ImportJob is the last asynchronous cos-image job of a workspace.
type ImportJob struct {
	ID      string
	State   string
	Message string
}

// InFlight reports whether the job has not reached a terminal state.
func (j ImportJob) InFlight() bool {
	switch j.State {
	case JobStateQueued, JobStateReadyForProcessing, JobStateInProgress, JobStateRunning:
		return true
	default:
		return false
	}
}

// Completed reports whether the job finished successfully.
func (j ImportJob) Completed() bool {
	return j.State == JobStateCompleted
}

// ImportDetails carries catalog metadata for an imported image.
type ImportDetails struct {
	LicenseType string `json:"licenseType,omitempty"`
	Product     string `json:"product,omitempty"`
	Vendor      string `json:"vendor,omitempty"`
}

// ImportRequest is the body of a cos-image import.
type ImportRequest struct {
	ImageName     string         `json:"imageName"`
	Region        string         `json:"region"`
	ImageFilename string         `json:"imageFilename"`
	BucketName    string         `json:"bucketName"`
	AccessKey     string         `json:"accessKey,omitempty"`
	SecretKey     string         `json:"secretKey,omitempty"`
	StorageType   string         `json:"storageType,omitempty"`
	ImportDetails *ImportDetails `json:"importDetails,omitempty"`
}
