package tracking

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/scenetrack/tracker/internal/config"
)

// defaultPixelScale maps image pixels to scene metres for cameras without a
// calibration entry. A nominal overhead view at this scale keeps uncalibrated
// cameras usable for smoke testing.
const defaultPixelScale = 0.01

// Calibration converts image-plane detections from one camera into scene
// coordinates on the ground plane (z = 0). The pinhole projection restricted
// to the ground plane is a 3x3 homography, so we build it once from the
// camera's intrinsics and pose and keep its inverse for pixel-to-scene
// mapping.
type Calibration struct {
	hinv *mat.Dense // 3x3, image plane to ground plane
}

// NewCalibration builds the ground-plane mapping for one camera. It fails
// when the camera geometry makes the homography singular, for example a
// camera whose optical axis is parallel to the ground.
func NewCalibration(cam config.CameraConfig) (*Calibration, error) {
	in := cam.Intrinsics
	if in.Fx <= 0 || in.Fy <= 0 {
		return nil, fmt.Errorf("invalid focal length fx=%v fy=%v", in.Fx, in.Fy)
	}

	k := mat.NewDense(3, 3, []float64{
		in.Fx, 0, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	})

	// Camera-to-scene rotation from XYZ Euler angles.
	r := rotationMatrix(cam.RotationDeg)

	// Scene-to-camera transform: X_c = R^T (X_s - t). On the ground plane
	// (z = 0) the projection collapses to a homography whose columns are the
	// first two columns of R^T and the transformed translation.
	var rt mat.Dense
	rt.CloneFrom(r.T())

	t := mat.NewVecDense(3, []float64{cam.Translation[0], cam.Translation[1], cam.Translation[2]})
	var mt mat.VecDense
	mt.MulVec(&rt, t)

	h := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		h.Set(i, 0, rt.At(i, 0))
		h.Set(i, 1, rt.At(i, 1))
		h.Set(i, 2, -mt.AtVec(i))
	}
	h.Mul(k, h)

	hinv := mat.NewDense(3, 3, nil)
	if err := hinv.Inverse(h); err != nil {
		return nil, fmt.Errorf("degenerate camera geometry: %w", err)
	}

	return &Calibration{hinv: hinv}, nil
}

// NewDefaultCalibration returns a nominal overhead mapping used for cameras
// that have no calibration entry in the scene configuration.
func NewDefaultCalibration() *Calibration {
	hinv := mat.NewDense(3, 3, []float64{
		defaultPixelScale, 0, 0,
		0, defaultPixelScale, 0,
		0, 0, 1,
	})
	return &Calibration{hinv: hinv}
}

// ProjectToScene maps an image point (pixels) to scene coordinates (metres)
// on the ground plane. Points that map to the plane at infinity are reported
// as an error rather than a huge coordinate.
func (c *Calibration) ProjectToScene(px, py float64) (Observation, error) {
	p := mat.NewVecDense(3, []float64{px, py, 1})
	var w mat.VecDense
	w.MulVec(c.hinv, p)

	scale := w.AtVec(2)
	if math.Abs(scale) < 1e-12 {
		return Observation{}, fmt.Errorf("image point (%v, %v) maps to the horizon", px, py)
	}

	return Observation{
		X: w.AtVec(0) / scale,
		Y: w.AtVec(1) / scale,
	}, nil
}

// rotationMatrix builds the camera-to-scene rotation R = Rz * Ry * Rx from
// XYZ Euler angles in degrees.
func rotationMatrix(deg [3]float64) *mat.Dense {
	rx := deg[0] * math.Pi / 180
	ry := deg[1] * math.Pi / 180
	rz := deg[2] * math.Pi / 180

	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)

	mx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, cx, -sx,
		0, sx, cx,
	})
	my := mat.NewDense(3, 3, []float64{
		cy, 0, sy,
		0, 1, 0,
		-sy, 0, cy,
	})
	mz := mat.NewDense(3, 3, []float64{
		cz, -sz, 0,
		sz, cz, 0,
		0, 0, 1,
	})

	r := mat.NewDense(3, 3, nil)
	r.Mul(mz, my)
	r.Mul(mat.DenseCopyOf(r), mx)
	return r
}

// HeadingQuaternion converts a ground-plane heading (radians) into a unit
// quaternion [x, y, z, w] describing a rotation about the vertical axis.
func HeadingQuaternion(heading float64) [4]float64 {
	half := heading / 2
	return [4]float64{0, 0, math.Sin(half), math.Cos(half)}
}
