package model

import "time"

// Box is an axis-aligned rectangle in frame pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the box area.
func (b Box) Area() float64 { return b.Width * b.Height }

// Landmarks are the subset of facial landmarks the detectors use, taken from
// a 68-point model: six points per eye and nine nose points.
type Landmarks struct {
	LeftEye  []Point `json:"left_eye"`
	RightEye []Point `json:"right_eye"`
	Nose     []Point `json:"nose"`
}

// CameraObservation is the latest output of the face/landmark collector.
type CameraObservation struct {
	// Available is false when there is no camera or the model failed to load.
	Available   bool       `json:"available"`
	FrameWidth  float64    `json:"frame_width"`
	FrameHeight float64    `json:"frame_height"`
	FaceCount   int        `json:"face_count"`
	FaceBox     *Box       `json:"face_box,omitempty"`
	Landmarks   *Landmarks `json:"landmarks,omitempty"`
	// Image is an encoded frame forwarded to device inference.
	Image []byte    `json:"image,omitempty"`
	At    time.Time `json:"at"`
}

// AudioObservation is the latest analyser output. Buffers use the browser
// byte conventions: frequency magnitudes 0-255 and time-domain samples
// centered on 128.
type AudioObservation struct {
	Available  bool      `json:"available"`
	Frequency  []uint8   `json:"frequency,omitempty"`
	TimeDomain []uint8   `json:"time_domain,omitempty"`
	At         time.Time `json:"at"`
}

// DeviceBox is one object reported by device inference.
type DeviceBox struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	AreaRatio  float64 `json:"area_ratio"`
}

// DeviceResult is the device inference verdict for one frame.
type DeviceResult struct {
	Detected   bool        `json:"detected"`
	Confidence float64     `json:"confidence"`
	Boxes      []DeviceBox `json:"boxes,omitempty"`
	// Degraded marks a fail-open result produced because inference was
	// unreachable.
	Degraded bool `json:"degraded,omitempty"`
}

// InputKind enumerates asynchronous browser events.
type InputKind string

// Input kinds.
const (
	InputKeyDown    InputKind = "keydown"
	InputPaste      InputKind = "paste"
	InputVisibility InputKind = "visibility"
	InputBlur       InputKind = "blur"
)

// InputEvent is one keystroke, paste, visibility change or window blur.
type InputEvent struct {
	EventID     string    `json:"event_id,omitempty"`
	Kind        InputKind `json:"kind" validate:"required,oneof=keydown paste visibility blur"`
	Key         string    `json:"key,omitempty"`
	Ctrl        bool      `json:"ctrl,omitempty"`
	Alt         bool      `json:"alt,omitempty"`
	Meta        bool      `json:"meta,omitempty"`
	PasteLength int       `json:"paste_length,omitempty" validate:"gte=0"`
	Hidden      bool      `json:"hidden,omitempty"`
	At          time.Time `json:"at"`
}
