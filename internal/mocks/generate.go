package mocks

//go:generate mockery --name RecordStore --srcpkg github.com/aevon-lab/recalc/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
