// Command voxelframe renders a voxel world headlessly and reports per-frame
// statistics.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"runtime"

	"github.com/aquasecurity/table"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/voxelframe"
	"github.com/gogpu/voxelframe/backend/native"
	"github.com/gogpu/voxelframe/config"
	"github.com/gogpu/voxelframe/visibility"
	"github.com/gogpu/voxelframe/world"
)

func main() {
	configFlag := &cli.PathFlag{
		Name:  "config",
		Usage: "path to an .hcl or .yaml configuration file (defaults when empty)",
	}
	app := &cli.App{
		Name:        "voxelframe",
		Description: "headless voxel world renderer",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "render frames orbiting the world",
				Action: commandRun,
				Flags: []cli.Flag{
					configFlag,
					&cli.StringSliceFlag{
						Name:  "region",
						Usage: "Anvil region file to load (repeatable)",
					},
					&cli.IntFlag{
						Name:  "grid",
						Usage: "size of the synthetic world when no region is given",
						Value: 8,
					},
					&cli.IntFlag{
						Name:  "frames",
						Usage: "number of frames to render",
						Value: 60,
					},
					&cli.StringFlag{
						Name:  "backend",
						Usage: "GPU backend: noop or vulkan",
						Value: native.BackendNoop,
					},
					&cli.BoolFlag{
						Name:  "verbose",
						Usage: "log per-frame diagnostics",
					},
				},
			},
			{
				Name:   "inspect",
				Usage:  "print the effective configuration",
				Action: commandInspect,
				Flags:  []cli.Flag{configFlag},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	path := ctx.Path("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func commandInspect(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func commandRun(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if ctx.Bool("verbose") {
		level = slog.LevelDebug
	}
	voxelframe.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	store := world.NewStore()
	if regions := ctx.StringSlice("region"); len(regions) > 0 {
		if err := loadRegions(ctx.Context, store, regions); err != nil {
			return err
		}
	} else {
		buildGrid(store, int32(ctx.Int("grid")))
	}
	if store.Len() == 0 {
		return fmt.Errorf("voxelframe: world is empty")
	}

	adapter, err := native.NewOwned(ctx.String("backend"), native.WithFenceTimeout(cfg.FenceTimeout()))
	if err != nil {
		return err
	}
	defer adapter.Close()

	r, err := voxelframe.NewRenderer(adapter, store, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	tbl := table.New(os.Stdout)
	tbl.SetHeaders("Frame", "Visible", "Near", "Drawn", "Compiled", "Sync", "Resorted", "Arena", "Passes", "Time")
	tbl.SetAlignment(table.AlignRight, table.AlignRight, table.AlignRight, table.AlignRight,
		table.AlignRight, table.AlignRight, table.AlignRight, table.AlignRight, table.AlignRight, table.AlignRight)

	orbit := newOrbit(store)
	frames := ctx.Int("frames")
	for i := range frames {
		st, err := r.RenderFrame(ctx.Context, orbit.camera(float32(i)/float32(max(frames, 1))))
		if err != nil {
			return err
		}
		tbl.AddRow(
			fmt.Sprint(st.Frame),
			fmt.Sprint(st.Visible),
			fmt.Sprint(st.Near),
			fmt.Sprint(st.Drawn),
			fmt.Sprint(st.Compiled),
			fmt.Sprint(st.SyncCompiles),
			fmt.Sprint(st.Resorted),
			fmt.Sprintf("%d/%d", st.ArenaBlocks, st.ArenaCapacity),
			fmt.Sprint(len(st.Passes)),
			st.Duration.String(),
		)
	}
	tbl.Render()

	cs := r.CompilerStats()
	ps := r.TargetStats()
	fmt.Printf("\ncompiled %d (sync %d, cache hits %d at %.0f%%, %d meshes cached, failed %d), targets created %d reused %d\n",
		cs.Completed, cs.Sync, cs.CacheHits, cs.CacheHitRate*100, cs.CachedMesh, cs.Failed, ps.Created, ps.Reused)
	return nil
}

// loadRegions decodes region files concurrently and loads them in order.
func loadRegions(ctx context.Context, store *world.Store, paths []string) error {
	results := make([][]world.SectionData, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := world.ReadRegion(path)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, data := range results {
		for _, d := range data {
			store.Load(d.Pos, d.Volume)
		}
		voxelframe.Logger().Info("voxelframe: region loaded",
			slog.String("path", paths[i]),
			slog.Int("sections", len(data)))
	}
	return nil
}

// buildGrid fills an n*n*n block of sections with terrain-like volumes:
// solid below a wavy surface, empty above.
func buildGrid(store *world.Store, n int32) {
	top := n * world.SectionSize / 2
	for sx := range n {
		for sz := range n {
			for sy := range n {
				v := world.NewVolume()
				for x := range world.SectionSize {
					for z := range world.SectionSize {
						wx, wz := float64(int(sx)*world.SectionSize+x), float64(int(sz)*world.SectionSize+z)
						h := int(top) + int(4*math.Sin(wx/9)+4*math.Cos(wz/7))
						for y := range world.SectionSize {
							if int(sy)*world.SectionSize+y < h {
								v.Set(x, y, z, true)
							}
						}
					}
				}
				store.Load(world.SectionPos{X: sx, Y: sy, Z: sz}, v)
			}
		}
	}
}

// orbit circles the camera around the loaded world, looking at its center.
type orbit struct {
	center mgl32.Vec3
	radius float32
	height float32
}

func newOrbit(store *world.Store) orbit {
	sections := store.Sections()
	lo, hi := sections[0].Pos().Min(), sections[0].Pos().Max()
	for _, s := range sections[1:] {
		mn, mx := s.Pos().Min(), s.Pos().Max()
		for i := range 3 {
			lo[i] = min(lo[i], mn[i])
			hi[i] = max(hi[i], mx[i])
		}
	}
	extent := hi.Sub(lo)
	return orbit{
		center: lo.Add(extent.Mul(0.5)),
		radius: max(extent.X(), extent.Z()) * 0.75,
		height: extent.Y() * 0.75,
	}
}

// camera returns the view at fraction t of one revolution.
func (o orbit) camera(t float32) visibility.Camera {
	angle := 2 * math.Pi * float64(t)
	pos := o.center.Add(mgl32.Vec3{
		o.radius * float32(math.Sin(angle)),
		o.height,
		o.radius * float32(math.Cos(angle)),
	})
	dir := o.center.Sub(pos).Normalize()
	return visibility.Camera{
		Position: pos,
		Yaw:      mgl32.RadToDeg(float32(math.Atan2(float64(dir.X()), float64(-dir.Z())))),
		Pitch:    mgl32.RadToDeg(float32(math.Asin(float64(dir.Y())))),
	}
}
