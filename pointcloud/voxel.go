package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// VoxelCoords stores Voxel coordinates in VoxelGrid axes. The grid is anchored
// at the origin: voxel (0, 0, 0) spans [0, size) on every axis.
type VoxelCoords struct {
	I, J, K int64
}

// GetVoxelCoordinates computes the voxel that contains pt for a grid of the given voxel size.
func GetVoxelCoordinates(pt r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor(pt.X / voxelSize)),
		J: int64(math.Floor(pt.Y / voxelSize)),
		K: int64(math.Floor(pt.Z / voxelSize)),
	}
}
