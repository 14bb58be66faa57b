package regress

import "gonum.org/v1/gonum/floats"

// Terms breaks a loss value into its parts.
type Terms struct {
	MSE    float64
	Cosine float64
}

// Loss is MSE plus cosine dissimilarity.
func (t Terms) Loss() float64 { return t.MSE + (1 - t.Cosine) }

// Cosine returns the cosine similarity of a and b, or 0 when either has zero norm.
func Cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// lossGrad computes the loss terms of pred against target and writes
// dLoss/dpred into grad. The cosine term contributes to grad only when
// cosineGrad is set; otherwise it is a constant offset.
func lossGrad(pred, target, grad []float64, cosineGrad bool) Terms {
	n := float64(len(pred))
	floats.SubTo(grad, pred, target)
	t := Terms{MSE: floats.Dot(grad, grad) / n, Cosine: Cosine(pred, target)}
	floats.Scale(2/n, grad)
	if !cosineGrad {
		return t
	}

	normP, normT := floats.Norm(pred, 2), floats.Norm(target, 2)
	if normP == 0 || normT == 0 {
		return t
	}
	// d(1-cos)/dp = -(t/(|p||t|) - cos*p/|p|²)
	floats.AddScaled(grad, -1/(normP*normT), target)
	floats.AddScaled(grad, t.Cosine/(normP*normP), pred)
	return t
}
