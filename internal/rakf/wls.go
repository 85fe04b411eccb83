package rakf

import (
	"gonum.org/v1/gonum/mat"

	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
)

// solveAux fits the sliding-window weighted-least-squares regressor and
// predicts at the last row, producing the auxiliary state estimate used to
// compute the adaptive factor.
func (f *Filter) solveAux() (float64, error) {
	n := f.cfg.Window

	if f.cfg.ModelType == ModelUWBIMU {
		X := mat.NewDense(n, 3, nil)
		for i := 0; i < n; i++ {
			X.Set(i, 0, f.state.Pos[i])
			X.Set(i, 1, f.state.Vel[i])
			X.Set(i, 2, f.state.Acc[i])
		}
		return solveWLS(X, f.state.Meas, f.state.W)
	}

	X := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, f.state.Pos[i])
	}
	return solveWLS(X, f.state.Meas, f.state.W)
}

// solveWLS fits beta = (X'WX)^-1 X'Wy via Cholesky factorization of the
// normal-equations matrix and returns the fitted response at the last row
// of X. A column that carries no information (identically zero across the
// window, e.g. a forced-zero acceleration channel, or a not-yet-populated
// buffer at start-up) is dropped from the system rather than treated as a
// failure -- mirroring how a pseudo-inverse solver silently assigns it zero
// weight. A system that remains singular after that reduction, or produces
// a non-finite prediction, surfaces NumericalFailure.
func solveWLS(X *mat.Dense, y, w []float64) (float64, error) {
	n, k := X.Dims()

	var xtw mat.Dense
	xtw.Mul(X.T(), mat.NewDiagDense(n, w)) // k x n

	var xtwx mat.Dense
	xtwx.Mul(&xtw, X) // k x k

	active := make([]int, 0, k)
	for i := 0; i < k; i++ {
		if xtwx.At(i, i) > 1e-12 {
			active = append(active, i)
		}
	}
	if len(active) == 0 {
		return 0, nil
	}

	m := len(active)
	sym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			sym.SetSym(i, j, xtwx.At(active[i], active[j]))
		}
	}

	var xtwy mat.VecDense
	xtwy.MulVec(&xtw, mat.NewVecDense(n, y)) // k x 1

	rhs := mat.NewVecDense(m, nil)
	for i, idx := range active {
		rhs.SetVec(i, xtwy.AtVec(idx))
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return 0, obslog.NewNumericalFailure("singular WLS normal-equations matrix", nil)
	}

	var betaReduced mat.VecDense
	if err := chol.SolveVecTo(&betaReduced, rhs); err != nil {
		return 0, obslog.NewNumericalFailure("WLS solve failed", err)
	}

	beta := make([]float64, k)
	for i, idx := range active {
		beta[idx] = betaReduced.AtVec(i)
	}

	pred := 0.0
	for i := 0; i < k; i++ {
		pred += X.At(n-1, i) * beta[i]
	}
	if !isFinite(pred) {
		return 0, obslog.NewNumericalFailure("non-finite WLS prediction", nil)
	}
	return pred, nil
}
